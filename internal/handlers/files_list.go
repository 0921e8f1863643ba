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

// PostFilesList lists a directory inside a sandbox. An empty path lists
// the project workspace root.
func (a *APIStore) PostFilesList(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := utils.ParseBody[api.ListFilesRequest](ctx, c)
	if err != nil {
		a.sendAPIStoreError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %s", err))

		return
	}

	telemetry.SetAttributes(ctx,
		attribute.String("sandbox.id", body.SandboxID),
		attribute.String("file.path", body.Path),
	)

	entries, err := a.files.ListFiles(ctx, body.SandboxID, body.Path)
	if err != nil {
		a.sendError(c, err)

		return
	}

	a.sendSuccess(c, entries)
}
