package evictor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/provider"
	"github.com/appmint-dev/sandbox-orchestrator/internal/registry"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
)

// failingDeleteProvider simulates a provider whose delete endpoint is down.
type failingDeleteProvider struct {
	provider.Provider
	fail atomic.Bool
}

func (f *failingDeleteProvider) Delete(ctx context.Context, sandboxID string) error {
	if f.fail.Load() {
		return errors.New("provider API unavailable")
	}

	return f.Provider.Delete(ctx, sandboxID)
}

func bindSandbox(t *testing.T, mock *provider.Mock, reg registry.SandboxRegistry, projectID string, expiresAt time.Time) string {
	t.Helper()

	instance, err := mock.Create(t.Context(), provider.CreateOptions{ProjectID: projectID})
	require.NoError(t, err)

	require.NoError(t, reg.SetHandle(t.Context(), projectID, &sandbox.Handle{
		SandboxID:    instance.SandboxID,
		ProjectID:    projectID,
		PreviewURL:   instance.PreviewURL,
		ProviderKind: sandbox.ProviderMock,
		CreatedAt:    expiresAt.Add(-time.Hour),
		ExpiresAt:    expiresAt,
	}))

	return instance.SandboxID
}

func TestEvictor_RemovesExpiredSandboxes(t *testing.T) {
	t.Parallel()

	mock := provider.NewMock()
	reg := registry.NewMemory()
	evictor := New(reg, mock, cfg.Config{AutoDeleteInterval: time.Minute})

	sandboxID := bindSandbox(t, mock, reg, "proj-old", time.Now().Add(-evictionGrace-time.Minute))

	evictor.sweep(t.Context())

	_, err := reg.GetHandle(t.Context(), "proj-old")
	require.ErrorIs(t, err, registry.ErrHandleNotFound)

	_, err = mock.Get(t.Context(), sandboxID)
	var notFound *sandbox.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestEvictor_KeepsLiveAndRecentlyExpiredSandboxes(t *testing.T) {
	t.Parallel()

	mock := provider.NewMock()
	reg := registry.NewMemory()
	evictor := New(reg, mock, cfg.Config{AutoDeleteInterval: time.Minute})

	bindSandbox(t, mock, reg, "proj-live", time.Now().Add(30*time.Minute))
	// Expired, but still inside the grace window where status checks
	// report it as stale.
	bindSandbox(t, mock, reg, "proj-stale", time.Now().Add(-time.Minute))

	evictor.sweep(t.Context())

	_, err := reg.GetHandle(t.Context(), "proj-live")
	require.NoError(t, err)
	_, err = reg.GetHandle(t.Context(), "proj-stale")
	require.NoError(t, err)
	assert.Equal(t, int64(0), mock.DeleteCalls.Load())
}

func TestEvictor_ClearsHandleWhenSandboxAlreadyGone(t *testing.T) {
	t.Parallel()

	mock := provider.NewMock()
	reg := registry.NewMemory()
	evictor := New(reg, mock, cfg.Config{AutoDeleteInterval: time.Minute})

	sandboxID := bindSandbox(t, mock, reg, "proj-old", time.Now().Add(-evictionGrace-time.Minute))
	require.NoError(t, mock.Delete(t.Context(), sandboxID))

	evictor.sweep(t.Context())

	_, err := reg.GetHandle(t.Context(), "proj-old")
	require.ErrorIs(t, err, registry.ErrHandleNotFound)
}

func TestEvictor_RetriesAfterProviderFailure(t *testing.T) {
	t.Parallel()

	mock := provider.NewMock()
	failing := &failingDeleteProvider{Provider: mock}
	reg := registry.NewMemory()
	evictor := New(reg, failing, cfg.Config{AutoDeleteInterval: time.Minute})

	bindSandbox(t, mock, reg, "proj-old", time.Now().Add(-evictionGrace-time.Minute))

	failing.fail.Store(true)
	evictor.sweep(t.Context())

	// The handle survives a failed delete so the next sweep retries it.
	_, err := reg.GetHandle(t.Context(), "proj-old")
	require.NoError(t, err)

	failing.fail.Store(false)
	evictor.sweep(t.Context())

	_, err = reg.GetHandle(t.Context(), "proj-old")
	require.ErrorIs(t, err, registry.ErrHandleNotFound)
}

func TestEvictor_StartSweepsUntilCancelled(t *testing.T) {
	t.Parallel()

	mock := provider.NewMock()
	reg := registry.NewMemory()
	evictor := New(reg, mock, cfg.Config{AutoDeleteInterval: 10 * time.Millisecond})

	bindSandbox(t, mock, reg, "proj-old", time.Now().Add(-evictionGrace-time.Minute))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		evictor.Start(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for {
		_, err := reg.GetHandle(t.Context(), "proj-old")
		if errors.Is(err, registry.ErrHandleNotFound) {
			break
		}

		select {
		case <-deadline:
			t.Fatal("expired sandbox was not evicted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("evictor did not stop on cancellation")
	}
}
