package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/appmint-dev/sandbox-orchestrator/internal/api"
	"github.com/appmint-dev/sandbox-orchestrator/internal/health"
	"github.com/appmint-dev/sandbox-orchestrator/internal/utils"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/telemetry"
)

// PostSnapshotCreate captures the project sandbox's disk as a provider
// image. Without an explicit fragment ID the snapshot is recorded against
// the fragment currently applied to the sandbox.
func (a *APIStore) PostSnapshotCreate(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := utils.ParseBody[api.CreateSnapshotRequest](ctx, c)
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

	fragmentID := body.FragmentID
	if fragmentID == "" {
		fragmentID = handle.FragmentID
	}

	telemetry.ReportEvent(ctx, "creating snapshot",
		attribute.String("project.id", body.ProjectID),
		attribute.String("sandbox.id", handle.SandboxID),
		attribute.String("fragment.id", fragmentID),
	)

	imageID, err := a.snapshots.Create(ctx, handle.SandboxID, fragmentID, body.ProjectID)
	if err != nil {
		telemetry.ReportError(ctx, "snapshot creation failed", err, attribute.String("project.id", body.ProjectID))
		a.sendError(c, err)

		return
	}

	if a.metrics != nil {
		a.metrics.SnapshotCreated(ctx)
	}

	a.sendSuccess(c, api.CreateSnapshotResponse{ImageID: imageID})
}
