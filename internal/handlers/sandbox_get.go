package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/appmint-dev/sandbox-orchestrator/internal/health"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/logger"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/telemetry"
)

// GetSandbox resolves a ready-to-use sandbox for a project. A broken
// sandbox is recovered inline before answering, so a 200 always means
// the sandbox behind the returned handle passed its health checks.
func (a *APIStore) GetSandbox(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := c.Param("projectID")

	telemetry.ReportEvent(ctx, "resolving project sandbox", attribute.String("project.id", projectID))

	verdict, handle, err := a.probe.Check(ctx, projectID)
	if err != nil {
		if health.IsAbsent(err) {
			a.sendAPIStoreError(c, http.StatusNotFound, "Sandbox not found")

			return
		}

		a.sendError(c, err)

		return
	}

	if !verdict.Broken {
		a.sendSuccess(c, statusPayload(verdict, handle))

		return
	}

	zap.L().Info("Sandbox is broken, recovering",
		logger.WithProjectID(projectID),
		logger.WithSandboxID(handle.SandboxID),
		zap.String("reason", string(verdict.Reason)),
	)

	result, err := a.orchestrator.EnsureRecovered(ctx, projectID)
	if err != nil {
		telemetry.ReportError(ctx, "sandbox recovery failed", err, attribute.String("project.id", projectID))
		a.sendError(c, err)

		return
	}

	telemetry.ReportEvent(ctx, "sandbox recovered",
		attribute.String("project.id", projectID),
		attribute.String("sandbox.id", result.SandboxID),
	)

	if a.metrics != nil {
		a.metrics.SandboxRecovered(ctx)
	}

	recovered, err := a.registry.GetHandle(ctx, projectID)
	if err != nil {
		a.sendError(c, err)

		return
	}

	a.sendSuccess(c, statusPayload(sandbox.HealthyVerdict(), recovered))
}
