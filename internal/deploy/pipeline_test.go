package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appmint-dev/sandbox-orchestrator/internal/artifacts"
	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/provider"
	"github.com/appmint-dev/sandbox-orchestrator/internal/registry"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/internal/transfer"
)

type testEnv struct {
	pipeline *Pipeline
	mock     *provider.Mock
	registry registry.SandboxRegistry
	store    artifacts.Store
}

func newTestEnv(t *testing.T, publishURL string) testEnv {
	t.Helper()

	config := cfg.Config{
		WorkDir:            "/workspace",
		CommandTimeout:     30 * time.Second,
		DeployBaseURL:      "https://apps.example.com",
		DeployPublishURL:   publishURL,
		DeployPublishToken: "publish-token",
	}

	mock := provider.NewMock()
	reg := registry.NewMemory()
	store := artifacts.NewFS(t.TempDir())

	pipeline := NewPipeline(
		reg,
		transfer.NewCommandExecutor(mock, config),
		transfer.NewFileTransferLayer(mock, config),
		store,
		config,
	)

	return testEnv{pipeline: pipeline, mock: mock, registry: reg, store: store}
}

// seedSandbox provisions a mock sandbox holding the given files and binds it
// to the project.
func seedSandbox(t *testing.T, env testEnv, projectID string, files map[string]string) string {
	t.Helper()

	instance, err := env.mock.Create(t.Context(), provider.CreateOptions{ProjectID: projectID})
	require.NoError(t, err)

	for path, content := range files {
		require.NoError(t, env.mock.WriteFile(t.Context(), instance.SandboxID, path, content))
	}

	require.NoError(t, env.registry.SetHandle(t.Context(), projectID, &sandbox.Handle{
		SandboxID:    instance.SandboxID,
		ProjectID:    projectID,
		PreviewURL:   instance.PreviewURL,
		ProviderKind: sandbox.ProviderMock,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(30 * time.Minute),
	}))

	return instance.SandboxID
}

func distFiles() map[string]string {
	return map[string]string{
		"/workspace/dist/index.html":              "<html><body>hi</body></html>",
		"/workspace/dist/assets/index-Ck2fA9.js":  "console.log('hi')",
		"/workspace/dist/assets/index-Bd31xQ.css": "body{margin:0}",
	}
}

func TestDeploy_PublishesBundle(t *testing.T) {
	t.Parallel()

	var published atomic.Pointer[publishRequest]
	var authHeader atomic.Pointer[string]

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req publishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			published.Store(&req)
		}

		auth := r.Header.Get("Authorization")
		authHeader.Store(&auth)

		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	env := newTestEnv(t, server.URL)
	seedSandbox(t, env, "proj-1", distFiles())

	result := env.pipeline.Deploy(t.Context(), "proj-1", "My App")

	require.True(t, result.Success, "logs: %v", result.Logs)
	assert.Equal(t, "https://apps.example.com/my-app", result.DeploymentURL)
	assert.Empty(t, result.Error)
	assert.NotEmpty(t, result.Logs)

	// The bundle landed in the artifact store with paths relative to dist/.
	data, err := env.store.Get(t.Context(), artifacts.DeploymentBundleKey("proj-1", "my-app"))
	require.NoError(t, err)

	unpacked, err := artifacts.UnpackBundle(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("<html><body>hi</body></html>"), unpacked["index.html"])
	assert.Equal(t, []byte("console.log('hi')"), unpacked["assets/index-Ck2fA9.js"])
	assert.Len(t, unpacked, 3)

	// The hosting plane was told where the bundle lives.
	req := published.Load()
	require.NotNil(t, req)
	assert.Equal(t, "proj-1", req.ProjectID)
	assert.Equal(t, "my-app", req.AppName)
	assert.Equal(t, artifacts.DeploymentBundleKey("proj-1", "my-app"), req.BundleKey)
	require.NotNil(t, authHeader.Load())
	assert.Equal(t, "Bearer publish-token", *authHeader.Load())
}

func TestDeploy_SkipsPublishWithoutURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	seedSandbox(t, env, "proj-1", distFiles())

	result := env.pipeline.Deploy(t.Context(), "proj-1", "")

	require.True(t, result.Success, "logs: %v", result.Logs)
	assert.Equal(t, "https://apps.example.com/proj-1", result.DeploymentURL)
	assert.Contains(t, result.Logs, "hosting plane publish skipped: no publish URL configured")

	exists, err := env.store.Exists(t.Context(), artifacts.DeploymentBundleKey("proj-1", "proj-1"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDeploy_NoSandboxIsAFailurePayload(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")

	result := env.pipeline.Deploy(t.Context(), "proj-unbound", "app")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "resolving project sandbox")
	assert.NotEmpty(t, result.Logs)
	assert.Empty(t, result.DeploymentURL)
}

func TestDeploy_BuildFailureIsReported(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	env.mock.ExecFunc = func(ctx context.Context, sandboxID string, command string, opts provider.ExecOptions) (sandbox.CommandResult, error) {
		return sandbox.CommandResult{ExitCode: 1, Stderr: "vite build failed: Rollup error in src/App.tsx"}, nil
	}
	seedSandbox(t, env, "proj-1", distFiles())

	result := env.pipeline.Deploy(t.Context(), "proj-1", "app")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "production build")
	assert.Contains(t, result.Error, "vite build failed")

	// Nothing was uploaded for the failed build.
	exists, err := env.store.Exists(t.Context(), artifacts.DeploymentBundleKey("proj-1", "app"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDeploy_ProviderErrorIsAFailurePayload(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	env.mock.ExecFunc = func(ctx context.Context, sandboxID string, command string, opts provider.ExecOptions) (sandbox.CommandResult, error) {
		return sandbox.CommandResult{}, errors.New("agent connection reset")
	}
	seedSandbox(t, env, "proj-1", distFiles())

	result := env.pipeline.Deploy(t.Context(), "proj-1", "app")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "production build")
	assert.Contains(t, result.Error, "agent connection reset")
}

func TestDeploy_EmptyBuildOutputFails(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	seedSandbox(t, env, "proj-1", map[string]string{
		"/workspace/src/App.tsx": "export default null",
	})

	result := env.pipeline.Deploy(t.Context(), "proj-1", "app")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "build produced no files")
}

func TestDeploy_HostingPlaneRejectionIsReported(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 400 is terminal for the retrying client, unlike a 5xx.
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	env := newTestEnv(t, server.URL)
	seedSandbox(t, env, "proj-1", distFiles())

	result := env.pipeline.Deploy(t.Context(), "proj-1", "app")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "hosting plane answered 400")
}

func TestNormalizeAppName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercases", in: "MyApp", want: "myapp"},
		{name: "spaces become dashes", in: "My Cool App", want: "my-cool-app"},
		{name: "squeezes runs of punctuation", in: "hello -- world!!", want: "hello-world"},
		{name: "trims edges", in: "  padded  ", want: "padded"},
		{name: "keeps digits", in: "app v2", want: "app-v2"},
		{name: "unicode collapses", in: "café ☕ app", want: "caf-app"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, normalizeAppName(tt.in))
		})
	}
}
