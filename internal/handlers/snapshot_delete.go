package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/appmint-dev/sandbox-orchestrator/pkg/telemetry"
)

func (a *APIStore) DeleteSnapshot(c *gin.Context) {
	ctx := c.Request.Context()
	imageID := c.Param("imageID")

	telemetry.ReportEvent(ctx, "deleting snapshot", attribute.String("snapshot.id", imageID))

	existed, err := a.snapshots.Delete(ctx, imageID)
	if err != nil {
		telemetry.ReportError(ctx, "snapshot deletion failed", err, attribute.String("snapshot.id", imageID))
		a.sendError(c, err)

		return
	}

	if !existed {
		a.sendAPIStoreError(c, http.StatusNotFound, "Snapshot not found")

		return
	}

	a.sendSuccess(c, nil)
}
