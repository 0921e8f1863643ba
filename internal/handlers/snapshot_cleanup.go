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

// PostSnapshotCleanup prunes a project's snapshots down to the newest
// keepCount, defaulting to the configured retention.
func (a *APIStore) PostSnapshotCleanup(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := utils.ParseBody[api.CleanupSnapshotsRequest](ctx, c)
	if err != nil {
		a.sendAPIStoreError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %s", err))

		return
	}

	keepCount := a.config.SnapshotKeepCount
	if body.KeepCount != nil {
		keepCount = *body.KeepCount
	}

	telemetry.ReportEvent(ctx, "cleaning up snapshots",
		attribute.String("project.id", body.ProjectID),
		attribute.Int("keep.count", keepCount),
	)

	result, err := a.snapshots.Cleanup(ctx, body.ProjectID, keepCount)
	if err != nil {
		telemetry.ReportError(ctx, "snapshot cleanup failed", err, attribute.String("project.id", body.ProjectID))
		a.sendError(c, err)

		return
	}

	a.sendSuccess(c, result)
}
