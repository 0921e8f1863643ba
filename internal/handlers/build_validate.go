package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/appmint-dev/sandbox-orchestrator/internal/api"
	"github.com/appmint-dev/sandbox-orchestrator/internal/health"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/internal/utils"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/telemetry"
)

// PostBuildValidate type-checks the project inside its sandbox and persists
// the outcome. A failing build is a regular 200 response carrying the issue
// list, only infrastructure problems map to error statuses.
func (a *APIStore) PostBuildValidate(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := utils.ParseBody[api.ValidateBuildRequest](ctx, c)
	if err != nil {
		a.sendAPIStoreError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %s", err))

		return
	}

	handle, err := a.registry.GetHandle(ctx, body.ProjectID)
	if err != nil {
		if health.IsAbsent(err) {
			a.sendAPIStoreError(c, http.StatusNotFound, "Sandbox not found")

			return
		}

		a.sendError(c, err)

		return
	}

	telemetry.ReportEvent(ctx, "validating build",
		attribute.String("project.id", body.ProjectID),
		attribute.String("sandbox.id", handle.SandboxID),
	)

	result, err := a.gate.Validate(ctx, body.ProjectID, handle.SandboxID)
	if err != nil {
		var buildErr *sandbox.BuildFailedError
		if !errors.As(err, &buildErr) {
			telemetry.ReportError(ctx, "build validation failed", err, attribute.String("project.id", body.ProjectID))
			a.sendError(c, err)

			return
		}
	}

	a.sendSuccess(c, result)
}
