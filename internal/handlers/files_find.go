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

func (a *APIStore) PostFilesFind(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := utils.ParseBody[api.FindFilesRequest](ctx, c)
	if err != nil {
		a.sendAPIStoreError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %s", err))

		return
	}

	telemetry.SetAttributes(ctx,
		attribute.String("sandbox.id", body.SandboxID),
		attribute.String("file.pattern", body.Pattern),
	)

	matches, err := a.files.FindFiles(ctx, body.SandboxID, body.Pattern)
	if err != nil {
		a.sendError(c, err)

		return
	}

	a.sendSuccess(c, matches)
}
