package handlers

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/appmint-dev/sandbox-orchestrator/pkg/telemetry"
)

// DeleteSandbox terminates a sandbox and clears any project binding that
// points at it. Deleting an already-gone sandbox succeeds.
func (a *APIStore) DeleteSandbox(c *gin.Context) {
	ctx := c.Request.Context()
	sandboxID := c.Param("sandboxID")

	telemetry.ReportEvent(ctx, "deleting sandbox", attribute.String("sandbox.id", sandboxID))

	if err := a.orchestrator.DeleteSandbox(ctx, sandboxID); err != nil {
		telemetry.ReportError(ctx, "sandbox deletion failed", err, attribute.String("sandbox.id", sandboxID))
		a.sendError(c, err)

		return
	}

	if a.metrics != nil {
		a.metrics.SandboxDeleted(ctx)
	}

	a.sendSuccess(c, nil)
}
