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

// PostFilesRestore writes an ad-hoc file map into a sandbox, same additive
// semantics as a fragment restore but without a stored fragment.
func (a *APIStore) PostFilesRestore(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := utils.ParseBody[api.RestoreFilesRequest](ctx, c)
	if err != nil {
		a.sendAPIStoreError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %s", err))

		return
	}

	telemetry.ReportEvent(ctx, "restoring files",
		attribute.String("sandbox.id", body.SandboxID),
		attribute.Int("file.count", len(body.Files)),
	)

	if err := a.restorer.RestoreFiles(ctx, body.SandboxID, body.Files); err != nil {
		telemetry.ReportError(ctx, "file restore failed", err, attribute.String("sandbox.id", body.SandboxID))
		a.sendError(c, err)

		return
	}

	a.sendSuccess(c, nil)
}
