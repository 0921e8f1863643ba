package preview

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
)

func newTestChecker(timeout time.Duration) *HealthChecker {
	return NewHealthChecker(cfg.Config{PreviewProbeTimeout: timeout})
}

func newTestHandle(kind sandbox.ProviderKind, previewURL string) *sandbox.Handle {
	return &sandbox.Handle{
		SandboxID:    "sbx-1",
		ProjectID:    "proj-1",
		PreviewURL:   previewURL,
		ProviderKind: kind,
	}
}

func TestEnsureHealthy_Healthy(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	checker := newTestChecker(5 * time.Second)

	err := checker.EnsureHealthy(t.Context(), newTestHandle(sandbox.ProviderMock, server.URL), "")
	require.NoError(t, err)
}

func TestEnsureHealthy_DaytonaSkipsWarningPage(t *testing.T) {
	t.Parallel()

	var sawHeader atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Daytona-Skip-Preview-Warning") == "true" {
			sawHeader.Store(true)
		}

		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	checker := newTestChecker(5 * time.Second)

	err := checker.EnsureHealthy(t.Context(), newTestHandle(sandbox.ProviderDaytona, server.URL), "")
	require.NoError(t, err)
	assert.True(t, sawHeader.Load())
}

func TestEnsureHealthy_RetriesUntilHealthy(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	checker := newTestChecker(10 * time.Second)

	err := checker.EnsureHealthy(t.Context(), newTestHandle(sandbox.ProviderMock, server.URL), "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, requests.Load(), int64(3))
}

func TestEnsureHealthy_ReportsStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	checker := newTestChecker(2 * time.Second)

	err := checker.EnsureHealthy(t.Context(), newTestHandle(sandbox.ProviderMock, server.URL), "")
	require.Error(t, err)

	var unhealthyErr *sandbox.PreviewUnhealthyError
	require.ErrorAs(t, err, &unhealthyErr)
	assert.Equal(t, "unexpected status 502", unhealthyErr.Reason)
	assert.Contains(t, err.Error(), "unexpected status 502")
}

func TestEnsureHealthy_ReportsTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	checker := newTestChecker(200 * time.Millisecond)

	err := checker.EnsureHealthy(t.Context(), newTestHandle(sandbox.ProviderMock, server.URL), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Timeout after 200ms")
}

func TestEnsureHealthy_OverrideURLWins(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	checker := newTestChecker(2 * time.Second)
	handle := newTestHandle(sandbox.ProviderMock, "http://127.0.0.1:1/unreachable")

	err := checker.EnsureHealthy(t.Context(), handle, server.URL)
	require.NoError(t, err)
}

func TestEnsureHealthy_NoURL(t *testing.T) {
	t.Parallel()

	checker := newTestChecker(time.Second)

	err := checker.EnsureHealthy(t.Context(), newTestHandle(sandbox.ProviderMock, ""), "")
	require.Error(t, err)

	var unhealthyErr *sandbox.PreviewUnhealthyError
	require.ErrorAs(t, err, &unhealthyErr)
	assert.Equal(t, "no preview URL available", unhealthyErr.Reason)
}
