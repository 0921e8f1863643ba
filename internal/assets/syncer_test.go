package assets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appmint-dev/sandbox-orchestrator/internal/artifacts"
	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/provider"
	"github.com/appmint-dev/sandbox-orchestrator/internal/transfer"
)

func newTestSyncer(t *testing.T) (*Syncer, artifacts.Store, *provider.Mock, string) {
	t.Helper()

	mock := provider.NewMock()

	instance, err := mock.Create(t.Context(), provider.CreateOptions{ProjectID: "proj-1"})
	require.NoError(t, err)

	store := artifacts.NewFS(t.TempDir())
	files := transfer.NewFileTransferLayer(mock, cfg.Config{
		WorkDir:        "/workspace",
		CommandTimeout: 30 * time.Second,
	})

	return NewSyncer(store, files), store, mock, instance.SandboxID
}

func putAssetBundle(t *testing.T, store artifacts.Store, projectID string, files map[string][]byte) {
	t.Helper()

	data, err := artifacts.PackBundle(files)
	require.NoError(t, err)
	require.NoError(t, store.Put(t.Context(), artifacts.AssetBundleKey(projectID), data))
}

func TestSync_WritesAssets(t *testing.T) {
	t.Parallel()

	syncer, store, mock, sandboxID := newTestSyncer(t)
	putAssetBundle(t, store, "proj-1", map[string][]byte{
		"logo.png":        {0x89, 0x50},
		"fonts/app.woff2": {0x77, 0x4f},
	})

	require.NoError(t, syncer.Sync(t.Context(), sandboxID, "proj-1"))

	content, err := mock.ReadFile(t.Context(), sandboxID, "/workspace/public/assets/logo.png")
	require.NoError(t, err)
	assert.Equal(t, string([]byte{0x89, 0x50}), content)

	_, err = mock.ReadFile(t.Context(), sandboxID, "/workspace/public/assets/fonts/app.woff2")
	require.NoError(t, err)
}

func TestSync_NoBundleIsNoop(t *testing.T) {
	t.Parallel()

	syncer, _, _, sandboxID := newTestSyncer(t)

	require.NoError(t, syncer.Sync(t.Context(), sandboxID, "proj-without-assets"))
}

func TestSync_CorruptBundle(t *testing.T) {
	t.Parallel()

	syncer, store, _, sandboxID := newTestSyncer(t)
	require.NoError(t, store.Put(t.Context(), artifacts.AssetBundleKey("proj-1"), []byte("not a tarball")))

	err := syncer.Sync(t.Context(), sandboxID, "proj-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unpack asset bundle")
}

func TestSyncAsync_ReportsOutcome(t *testing.T) {
	t.Parallel()

	syncer, store, mock, sandboxID := newTestSyncer(t)
	putAssetBundle(t, store, "proj-1", map[string][]byte{"logo.png": {0x89}})

	task := syncer.SyncAsync(t.Context(), sandboxID, "proj-1")
	require.NoError(t, task.Wait(t.Context()))

	_, err := mock.ReadFile(t.Context(), sandboxID, "/workspace/public/assets/logo.png")
	require.NoError(t, err)
}

func TestSyncAsync_FailureSurfacesOnWait(t *testing.T) {
	t.Parallel()

	syncer, store, _, sandboxID := newTestSyncer(t)
	require.NoError(t, store.Put(t.Context(), artifacts.AssetBundleKey("proj-1"), []byte("corrupt")))

	task := syncer.SyncAsync(t.Context(), sandboxID, "proj-1")

	err := task.Wait(t.Context())
	require.Error(t, err)

	// Waiting again returns the same outcome.
	require.Error(t, task.Wait(t.Context()))
}
