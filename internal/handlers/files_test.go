package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appmint-dev/sandbox-orchestrator/internal/api"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/internal/store"
)

func TestPostCommandExecute_ReturnsExitCode(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	seedFragment(ta, "frag-1", "proj-1")
	sandboxID := createSandbox(t, ta, "proj-1")

	rec, env := ta.doRequest(t, http.MethodPost, "/command/execute", map[string]any{
		"sandboxID": sandboxID,
		"command":   "ls -la",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	result := decodeData[sandbox.CommandResult](t, env)
	assert.Equal(t, 0, result.ExitCode)
}

func TestPostCommandExecute_UnknownSandboxIs404(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)

	rec, env := ta.doRequest(t, http.MethodPost, "/command/execute", map[string]any{
		"sandboxID": "sbx-missing",
		"command":   "ls",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Sandbox not found", env.Error)
}

func TestPostFileWriteAndRead(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	seedFragment(ta, "frag-1", "proj-1")
	sandboxID := createSandbox(t, ta, "proj-1")

	rec, env := ta.doRequest(t, http.MethodPost, "/file/write", map[string]string{
		"sandboxID": sandboxID,
		"path":      "src/App.tsx",
		"content":   "export default function App() {}",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	rec, env = ta.doRequest(t, http.MethodPost, "/file/read", map[string]string{
		"sandboxID": sandboxID,
		"path":      "src/App.tsx",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	file := decodeData[api.ReadFileResponse](t, env)
	assert.Equal(t, "src/App.tsx", file.Path)
	assert.Equal(t, "export default function App() {}", file.Content)
}

func TestPostFileRead_MissingFileIs404(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	seedFragment(ta, "frag-1", "proj-1")
	sandboxID := createSandbox(t, ta, "proj-1")

	rec, env := ta.doRequest(t, http.MethodPost, "/file/read", map[string]string{
		"sandboxID": sandboxID,
		"path":      "src/Ghost.tsx",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "Ghost.tsx")
}

func TestPostFilesList_DefaultsToWorkspace(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	seedFragment(ta, "frag-1", "proj-1")
	sandboxID := createSandbox(t, ta, "proj-1")

	rec, env := ta.doRequest(t, http.MethodPost, "/files/list", map[string]string{
		"sandboxID": sandboxID,
	})

	require.Equal(t, http.StatusOK, rec.Code)

	entries := decodeData[[]sandbox.FileInfo](t, env)
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		paths = append(paths, entry.Path)
	}
	assert.Contains(t, paths, "/workspace/package.json")
}

func TestPostFilesFind_MatchesPattern(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	seedFragment(ta, "frag-1", "proj-1")
	sandboxID := createSandbox(t, ta, "proj-1")

	rec, env := ta.doRequest(t, http.MethodPost, "/files/find", map[string]string{
		"sandboxID": sandboxID,
		"pattern":   "*.tsx",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	matches := decodeData[[]sandbox.FileInfo](t, env)
	require.Len(t, matches, 1)
	assert.Equal(t, "main.tsx", matches[0].Name)
}

func TestPostFilesBatchWrite_PartialFailureStays200(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	seedFragment(ta, "frag-1", "proj-1")
	sandboxID := createSandbox(t, ta, "proj-1")

	ta.mock.WriteFileFunc = func(ctx context.Context, id string, path string, content string) error {
		if strings.Contains(path, "locked") {
			return errors.New("permission denied")
		}

		return nil
	}

	rec, env := ta.doRequest(t, http.MethodPost, "/files/batch-write", map[string]any{
		"sandboxID": sandboxID,
		"files": []map[string]string{
			{"path": "src/a.ts", "content": "export {}"},
			{"path": "locked/b.ts", "content": "export {}"},
			{"path": "src/c.ts", "content": "export {}"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	results := decodeData[[]sandbox.WriteResult](t, env)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "permission denied")
	assert.True(t, results[2].Success)
}

func TestPostFilesRestore_WritesIntoSandbox(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	seedFragment(ta, "frag-1", "proj-1")
	sandboxID := createSandbox(t, ta, "proj-1")

	rec, env := ta.doRequest(t, http.MethodPost, "/files/restore", map[string]any{
		"sandboxID": sandboxID,
		"files": map[string]string{
			"src/Restored.tsx": "export const restored = true",
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	content, err := ta.api.files.ReadFile(t.Context(), sandboxID, "src/Restored.tsx")
	require.NoError(t, err)
	assert.Contains(t, content, "restored")
}

func TestPostFragmentRestore_ResolvesSandboxFromProject(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	seedFragment(ta, "frag-1", "proj-1")
	sandboxID := createSandbox(t, ta, "proj-1")

	ta.store.SeedFragment(store.Fragment{
		FragmentID: "frag-2",
		ProjectID:  "proj-1",
		Files:      map[string]string{"src/New.tsx": "export const fresh = 2"},
		CreatedAt:  time.Now(),
	})

	// No sandboxID in the body, the handler resolves it via the binding.
	rec, env := ta.doRequest(t, http.MethodPost, "/fragment/restore", map[string]string{
		"projectID":  "proj-1",
		"fragmentID": "frag-2",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	content, err := ta.api.files.ReadFile(t.Context(), sandboxID, "src/New.tsx")
	require.NoError(t, err)
	assert.Contains(t, content, "fresh")

	// The restore is additive, files outside the fragment survive.
	_, err = ta.api.files.ReadFile(t.Context(), sandboxID, "package.json")
	require.NoError(t, err)
}

func TestPostFragmentRestore_UnknownFragmentIs404(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	seedFragment(ta, "frag-1", "proj-1")
	createSandbox(t, ta, "proj-1")

	rec, env := ta.doRequest(t, http.MethodPost, "/fragment/restore", map[string]string{
		"projectID":  "proj-1",
		"fragmentID": "frag-missing",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Fragment not found", env.Error)
}
