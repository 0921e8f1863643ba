package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/appmint-dev/sandbox-orchestrator/internal/api"
	"github.com/appmint-dev/sandbox-orchestrator/internal/recovery"
	"github.com/appmint-dev/sandbox-orchestrator/internal/utils"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/telemetry"
)

// PostSandbox provisions a sandbox for a project. When the project already
// has one it is replaced, the registry never holds two handles per project.
func (a *APIStore) PostSandbox(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := utils.ParseBody[api.CreateSandboxRequest](ctx, c)
	if err != nil {
		a.sendAPIStoreError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %s", err))

		return
	}

	params := recovery.CreateParams{
		ProjectID:  body.ProjectID,
		IsImported: body.IsImportedProject,
	}
	if body.FragmentID != nil {
		params.FragmentID = *body.FragmentID
	}
	if body.TemplateName != nil {
		params.TemplateName = *body.TemplateName
	}
	if body.ImportedFrom != nil {
		params.ImportedFrom = *body.ImportedFrom
		params.IsImported = true
	}

	telemetry.ReportEvent(ctx, "creating sandbox",
		attribute.String("project.id", params.ProjectID),
		attribute.Bool("imported", params.IsImported),
	)

	handle, err := a.orchestrator.CreateSandbox(ctx, params)
	if err != nil {
		telemetry.ReportError(ctx, "sandbox creation failed", err, attribute.String("project.id", params.ProjectID))
		a.sendError(c, err)

		return
	}

	if a.metrics != nil {
		a.metrics.SandboxCreated(ctx, handle.ProviderKind)
	}

	a.sendSuccess(c, handle)
}
