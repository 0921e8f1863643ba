package fragment

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/provider"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/internal/store"
	"github.com/appmint-dev/sandbox-orchestrator/internal/transfer"
)

func newTestRestorer(t *testing.T) (*Restorer, *provider.Mock, string) {
	t.Helper()

	mock := provider.NewMock()
	instance, err := mock.Create(t.Context(), provider.CreateOptions{ProjectID: "proj-1"})
	require.NoError(t, err)

	files := transfer.NewFileTransferLayer(mock, cfg.Config{WorkDir: "/workspace", CommandTimeout: 30 * time.Second})

	return NewRestorer(files), mock, instance.SandboxID
}

func TestRestoreFragment(t *testing.T) {
	t.Parallel()

	restorer, mock, sandboxID := newTestRestorer(t)

	fragment := &store.Fragment{
		FragmentID: "frag-1",
		ProjectID:  "proj-1",
		Files: map[string]string{
			"/workspace/package.json": "{}",
			"/workspace/src/App.tsx":  "export default function App() {}",
			"/workspace/index.html":   "<!doctype html>",
		},
	}

	require.NoError(t, restorer.RestoreFragment(t.Context(), sandboxID, fragment))

	for path, want := range fragment.Files {
		content, err := mock.ReadFile(t.Context(), sandboxID, path)
		require.NoError(t, err)
		assert.Equal(t, want, content)
	}
}

func TestRestoreFiles_Idempotent(t *testing.T) {
	t.Parallel()

	restorer, mock, sandboxID := newTestRestorer(t)

	files := map[string]string{
		"/workspace/package.json": "{}",
		"/workspace/src/App.tsx":  "export {}",
	}

	require.NoError(t, restorer.RestoreFiles(t.Context(), sandboxID, files))
	require.NoError(t, restorer.RestoreFiles(t.Context(), sandboxID, files))

	content, err := mock.ReadFile(t.Context(), sandboxID, "/workspace/package.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", content)
}

func TestRestoreFiles_Additive(t *testing.T) {
	t.Parallel()

	restorer, mock, sandboxID := newTestRestorer(t)

	require.NoError(t, mock.WriteFile(t.Context(), sandboxID, "/workspace/existing.ts", "keep me"))

	require.NoError(t, restorer.RestoreFiles(t.Context(), sandboxID, map[string]string{
		"/workspace/new.ts": "added",
	}))

	content, err := mock.ReadFile(t.Context(), sandboxID, "/workspace/existing.ts")
	require.NoError(t, err)
	assert.Equal(t, "keep me", content)
}

func TestRestoreFiles_FailedWriteFailsRestore(t *testing.T) {
	t.Parallel()

	restorer, mock, sandboxID := newTestRestorer(t)

	mock.WriteFileFunc = func(ctx context.Context, id string, path string, content string) error {
		if path == "/workspace/bad.ts" {
			return &sandbox.ProviderUnavailableError{Provider: sandbox.ProviderMock, Err: context.DeadlineExceeded}
		}

		return nil
	}

	err := restorer.RestoreFiles(t.Context(), sandboxID, map[string]string{
		"/workspace/good.ts": "a",
		"/workspace/bad.ts":  "b",
	})
	require.ErrorContains(t, err, "failed to write /workspace/bad.ts")
}

func TestRestoreFiles_Empty(t *testing.T) {
	t.Parallel()

	restorer, _, sandboxID := newTestRestorer(t)

	require.NoError(t, restorer.RestoreFiles(t.Context(), sandboxID, nil))
}

func TestRestoreFiles_Concurrent(t *testing.T) {
	t.Parallel()

	restorer, mock, sandboxID := newTestRestorer(t)

	var inFlight, peak atomic.Int64
	mock.WriteFileFunc = func(ctx context.Context, id string, path string, content string) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}

		time.Sleep(5 * time.Millisecond)

		return nil
	}

	files := make(map[string]string, 32)
	for i := range 32 {
		files[fmt.Sprintf("src/file%d.ts", i)] = "x"
	}

	require.NoError(t, restorer.RestoreFiles(t.Context(), sandboxID, files))
	assert.LessOrEqual(t, peak.Load(), int64(maxConcurrentWrites))
}
