package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/provider"
	"github.com/appmint-dev/sandbox-orchestrator/internal/registry"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/internal/transfer"
)

func testConfig() cfg.Config {
	return cfg.Config{
		WorkDir:        "/workspace",
		CommandTimeout: 30 * time.Second,
		MarkerFiles:    []string{"package.json", "index.html", "src/main.tsx"},
	}
}

type testProbe struct {
	probe    *Probe
	registry registry.SandboxRegistry
	mock     *provider.Mock
}

// newHealthySandbox provisions a mock sandbox with all marker files in
// place and binds its handle to projectID.
func newHealthySandbox(t *testing.T, projectID string, expiresAt time.Time) (testProbe, string) {
	t.Helper()

	ctx := t.Context()
	config := testConfig()

	mock := provider.NewMock()
	reg := registry.NewMemory()
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	instance, err := mock.Create(ctx, provider.CreateOptions{ProjectID: projectID})
	require.NoError(t, err)

	for _, marker := range config.MarkerFiles {
		require.NoError(t, mock.WriteFile(ctx, instance.SandboxID, "/workspace/"+marker, "content"))
	}

	err = reg.SetHandle(ctx, projectID, &sandbox.Handle{
		SandboxID:    instance.SandboxID,
		ProjectID:    projectID,
		PreviewURL:   instance.PreviewURL,
		ProviderKind: sandbox.ProviderMock,
		CreatedAt:    time.Now(),
		ExpiresAt:    expiresAt,
	})
	require.NoError(t, err)

	files := transfer.NewFileTransferLayer(mock, config)

	return testProbe{
		probe:    NewProbe(reg, mock, files, config),
		registry: reg,
		mock:     mock,
	}, instance.SandboxID
}

func TestCheck_NoHandle(t *testing.T) {
	t.Parallel()

	config := testConfig()
	mock := provider.NewMock()
	reg := registry.NewMemory()
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	probe := NewProbe(reg, mock, transfer.NewFileTransferLayer(mock, config), config)

	_, handle, err := probe.Check(t.Context(), "proj-fresh")
	require.ErrorIs(t, err, registry.ErrHandleNotFound)
	assert.Nil(t, handle)
	assert.True(t, IsAbsent(err))
}

func TestCheck_Healthy(t *testing.T) {
	t.Parallel()

	tp, sandboxID := newHealthySandbox(t, "proj-1", time.Now().Add(30*time.Minute))

	verdict, handle, err := tp.probe.Check(t.Context(), "proj-1")
	require.NoError(t, err)

	assert.False(t, verdict.Broken)
	require.NotNil(t, handle)
	assert.Equal(t, sandboxID, handle.SandboxID)
}

func TestCheck_ExpiredHandleIsStale(t *testing.T) {
	t.Parallel()

	tp, _ := newHealthySandbox(t, "proj-2", time.Now().Add(-time.Minute))

	verdict, handle, err := tp.probe.Check(t.Context(), "proj-2")
	require.NoError(t, err)

	assert.True(t, verdict.Broken)
	assert.Equal(t, sandbox.ReasonStale, verdict.Reason)
	require.NotNil(t, handle)
}

func TestCheck_UnreachableSandbox(t *testing.T) {
	t.Parallel()

	tp, sandboxID := newHealthySandbox(t, "proj-3", time.Now().Add(30*time.Minute))
	tp.mock.MarkUnreachable(sandboxID)

	verdict, _, err := tp.probe.Check(t.Context(), "proj-3")
	require.NoError(t, err)

	assert.True(t, verdict.Broken)
	assert.Equal(t, sandbox.ReasonUnreachable, verdict.Reason)
}

func TestCheck_DeletedSandboxIsUnreachable(t *testing.T) {
	t.Parallel()

	tp, sandboxID := newHealthySandbox(t, "proj-4", time.Now().Add(30*time.Minute))
	require.NoError(t, tp.mock.Delete(t.Context(), sandboxID))

	verdict, _, err := tp.probe.Check(t.Context(), "proj-4")
	require.NoError(t, err)

	assert.True(t, verdict.Broken)
	assert.Equal(t, sandbox.ReasonUnreachable, verdict.Reason)
}

func TestCheck_MissingMarkerFiles(t *testing.T) {
	t.Parallel()

	tp, sandboxID := newHealthySandbox(t, "proj-5", time.Now().Add(30*time.Minute))
	tp.mock.RemoveFile(sandboxID, "/workspace/package.json")
	tp.mock.RemoveFile(sandboxID, "/workspace/src/main.tsx")

	verdict, _, err := tp.probe.Check(t.Context(), "proj-5")
	require.NoError(t, err)

	assert.True(t, verdict.Broken)
	assert.Equal(t, sandbox.ReasonMissingFiles, verdict.Reason)
	assert.Equal(t, []string{"package.json", "src/main.tsx"}, verdict.MissingFiles)
}

func TestCheck_StaleWinsOverUnreachable(t *testing.T) {
	t.Parallel()

	tp, sandboxID := newHealthySandbox(t, "proj-6", time.Now().Add(-time.Hour))
	tp.mock.MarkUnreachable(sandboxID)

	verdict, _, err := tp.probe.Check(t.Context(), "proj-6")
	require.NoError(t, err)

	assert.Equal(t, sandbox.ReasonStale, verdict.Reason)
}

func TestCheck_ReadOnly(t *testing.T) {
	t.Parallel()

	tp, sandboxID := newHealthySandbox(t, "proj-7", time.Now().Add(-time.Minute))

	_, _, err := tp.probe.Check(t.Context(), "proj-7")
	require.NoError(t, err)

	// A broken verdict must not tear anything down.
	_, err = tp.registry.GetHandle(t.Context(), "proj-7")
	require.NoError(t, err)
	_, err = tp.mock.Get(t.Context(), sandboxID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), tp.mock.DeleteCalls.Load())
}
