package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appmint-dev/sandbox-orchestrator/internal/api"
	"github.com/appmint-dev/sandbox-orchestrator/internal/provider"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
)

func TestGetSandbox_FreshProjectIs404(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)

	rec, env := ta.doRequest(t, http.MethodGet, "/sandbox/proj-1", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "Sandbox not found", env.Error)
}

func TestGetSandbox_HealthyPassesThrough(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	seedFragment(ta, "frag-1", "proj-1")
	sandboxID := createSandbox(t, ta, "proj-1")
	created := ta.mock.CreateCalls.Load()

	rec, env := ta.doRequest(t, http.MethodGet, "/sandbox/proj-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	status := decodeData[api.SandboxStatus](t, env)
	assert.True(t, status.IsActive)
	assert.Equal(t, sandbox.StatusRunning, status.Status)
	assert.Equal(t, sandboxID, status.SandboxID)
	assert.Equal(t, created, ta.mock.CreateCalls.Load())
}

func TestGetSandbox_BrokenSandboxIsRecovered(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	seedFragment(ta, "frag-1", "proj-1")
	first := createSandbox(t, ta, "proj-1")

	ta.mock.MarkUnreachable(first)

	rec, env := ta.doRequest(t, http.MethodGet, "/sandbox/proj-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	status := decodeData[api.SandboxStatus](t, env)
	assert.True(t, status.IsActive)
	assert.Equal(t, sandbox.StatusRunning, status.Status)
	assert.NotEqual(t, first, status.SandboxID)

	// The replacement sandbox got the latest fragment restored.
	content, err := ta.api.files.ReadFile(t.Context(), status.SandboxID, "package.json")
	require.NoError(t, err)
	assert.Contains(t, content, "proj-1")
}

func TestGetSandbox_RecoveryFailureIs503(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	seedFragment(ta, "frag-1", "proj-1")
	first := createSandbox(t, ta, "proj-1")

	ta.mock.MarkUnreachable(first)
	ta.mock.ExecFunc = func(ctx context.Context, sandboxID string, command string, opts provider.ExecOptions) (sandbox.CommandResult, error) {
		return sandbox.CommandResult{}, errors.New("agent connection refused")
	}

	rec, env := ta.doRequest(t, http.MethodGet, "/sandbox/proj-1", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "retry shortly")

	// The failed attempt left no binding behind, so the project reads
	// as absent instead of permanently broken.
	ta.mock.ExecFunc = nil

	rec, env = ta.doRequest(t, http.MethodGet, "/sandbox/proj-1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Sandbox not found", env.Error)
}
