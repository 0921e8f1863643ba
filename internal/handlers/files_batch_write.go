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

// PostFilesBatchWrite writes a set of files into a sandbox, one result per
// entry. Per-file failures are reported in the results, never as an HTTP
// error, so one bad path does not hide the writes that went through.
func (a *APIStore) PostFilesBatchWrite(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := utils.ParseBody[api.BatchWriteRequest](ctx, c)
	if err != nil {
		a.sendAPIStoreError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %s", err))

		return
	}

	telemetry.ReportEvent(ctx, "batch writing files",
		attribute.String("sandbox.id", body.SandboxID),
		attribute.Int("file.count", len(body.Files)),
	)

	results := a.files.BatchWrite(ctx, body.SandboxID, body.Files)

	a.sendSuccess(c, results)
}
