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

func (a *APIStore) PostFileWrite(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := utils.ParseBody[api.WriteFileRequest](ctx, c)
	if err != nil {
		a.sendAPIStoreError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %s", err))

		return
	}

	telemetry.SetAttributes(ctx,
		attribute.String("sandbox.id", body.SandboxID),
		attribute.String("file.path", body.Path),
	)

	if err := a.files.WriteFile(ctx, body.SandboxID, body.Path, body.Content); err != nil {
		telemetry.ReportError(ctx, "file write failed", err, attribute.String("file.path", body.Path))
		a.sendError(c, err)

		return
	}

	a.sendSuccess(c, nil)
}
