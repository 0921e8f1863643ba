package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/appmint-dev/sandbox-orchestrator/internal/api"
	"github.com/appmint-dev/sandbox-orchestrator/internal/utils"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/telemetry"
)

// PostDeploy builds the project in its sandbox and publishes the bundle.
// The response is always 200, deployment failures come back in the result
// payload with the step logs so the caller can show them verbatim.
func (a *APIStore) PostDeploy(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := utils.ParseBody[api.DeployRequest](ctx, c)
	if err != nil {
		a.sendAPIStoreError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %s", err))

		return
	}

	appName := ""
	if body.AppName != nil {
		appName = *body.AppName
	}

	telemetry.ReportEvent(ctx, "deploying project",
		attribute.String("project.id", body.ProjectID),
		attribute.String("app.name", appName),
	)

	if a.metrics != nil {
		a.metrics.DeployStarted(ctx)
	}

	result := a.pipeline.Deploy(ctx, body.ProjectID, appName)

	a.sendSuccess(c, result)
}
