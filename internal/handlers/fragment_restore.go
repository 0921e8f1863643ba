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

// PostFragmentRestore writes a stored fragment's files into a running
// sandbox. The restore is additive, files outside the fragment survive.
func (a *APIStore) PostFragmentRestore(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := utils.ParseBody[api.RestoreFragmentRequest](ctx, c)
	if err != nil {
		a.sendAPIStoreError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %s", err))

		return
	}

	sandboxID, err := a.getSandboxID(ctx, body.ProjectID, body.SandboxID)
	if err != nil {
		a.sendError(c, err)

		return
	}

	frag, err := a.store.GetFragment(ctx, body.FragmentID)
	if err != nil {
		a.sendError(c, err)

		return
	}

	telemetry.ReportEvent(ctx, "restoring fragment",
		attribute.String("project.id", body.ProjectID),
		attribute.String("sandbox.id", sandboxID),
		attribute.String("fragment.id", body.FragmentID),
	)

	if err := a.restorer.RestoreFragment(ctx, sandboxID, frag); err != nil {
		telemetry.ReportError(ctx, "fragment restore failed", err, attribute.String("fragment.id", body.FragmentID))
		a.sendError(c, err)

		return
	}

	a.sendSuccess(c, nil)
}
