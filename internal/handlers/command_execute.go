package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/appmint-dev/sandbox-orchestrator/internal/api"
	"github.com/appmint-dev/sandbox-orchestrator/internal/transfer"
	"github.com/appmint-dev/sandbox-orchestrator/internal/utils"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/telemetry"
)

// PostCommandExecute runs a shell command inside a sandbox and returns its
// exit code and output. A non-zero exit code is a result, not an error.
func (a *APIStore) PostCommandExecute(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := utils.ParseBody[api.ExecuteCommandRequest](ctx, c)
	if err != nil {
		a.sendAPIStoreError(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %s", err))

		return
	}

	telemetry.ReportEvent(ctx, "executing command",
		attribute.String("sandbox.id", body.SandboxID),
		attribute.String("command", body.Command),
	)

	var opts []transfer.ExecOption
	if body.TimeoutMs > 0 {
		opts = append(opts, transfer.WithTimeout(time.Duration(body.TimeoutMs)*time.Millisecond))
	}

	result, err := a.executor.Execute(ctx, body.SandboxID, body.Command, opts...)
	if err != nil {
		telemetry.ReportError(ctx, "command execution failed", err, attribute.String("sandbox.id", body.SandboxID))
		a.sendError(c, err)

		return
	}

	a.sendSuccess(c, result)
}
