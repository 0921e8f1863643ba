package handlers

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/appmint-dev/sandbox-orchestrator/internal/api"
	"github.com/appmint-dev/sandbox-orchestrator/internal/health"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/telemetry"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/utils"
)

// GetSandboxStatus reports the sandbox state for a project without side
// effects. It never provisions or recovers, so dashboards can poll it.
func (a *APIStore) GetSandboxStatus(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := c.Param("projectID")

	telemetry.SetAttributes(ctx, attribute.String("project.id", projectID))

	verdict, handle, err := a.probe.Check(ctx, projectID)
	if err != nil {
		if health.IsAbsent(err) {
			a.sendSuccess(c, api.SandboxStatus{Status: sandbox.StatusNotFound})

			return
		}

		telemetry.ReportError(ctx, "sandbox status check failed", err, attribute.String("project.id", projectID))
		a.sendError(c, err)

		return
	}

	a.sendSuccess(c, statusPayload(verdict, handle))
}

// statusPayload folds a health verdict and its handle into the wire status.
// An expired handle reports terminated, any other broken verdict unhealthy.
func statusPayload(verdict sandbox.HealthVerdict, handle *sandbox.Handle) api.SandboxStatus {
	status := api.SandboxStatus{
		SandboxID:  handle.SandboxID,
		PreviewURL: handle.PreviewURL,
		ExpiresAt:  utils.ToPtr(handle.ExpiresAt),
	}

	switch {
	case !verdict.Broken:
		status.IsActive = true
		status.Status = sandbox.StatusRunning
	case verdict.Reason == sandbox.ReasonStale:
		status.Status = sandbox.StatusTerminated
		status.HealthReason = verdict.Reason
	default:
		status.Status = sandbox.StatusUnhealthy
		status.HealthReason = verdict.Reason
		status.MissingFiles = verdict.MissingFiles
	}

	return status
}
