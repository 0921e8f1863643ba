package provider

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/id"
)

// Mock is an in-memory provider used by tests and local development. Exec
// behavior can be overridden per test via ExecFunc; file operations run
// against an in-memory tree per sandbox.
type Mock struct {
	instances cmap.ConcurrentMap[string, *mockInstance]
	snapshots cmap.ConcurrentMap[string, map[string]string]

	ExecFunc          func(ctx context.Context, sandboxID string, command string, opts ExecOptions) (sandbox.CommandResult, error)
	WriteFileFunc     func(ctx context.Context, sandboxID string, path string, content string) error
	ValidateBuildFunc func(ctx context.Context, sandboxID string) (sandbox.BuildValidationResult, error)

	// PreviewBase overrides the preview URL host for new sandboxes so
	// tests can point previews at a local HTTP server.
	PreviewBase string

	CreateCalls atomic.Int64
	DeleteCalls atomic.Int64
}

type mockInstance struct {
	mu sync.RWMutex

	instance    Instance
	files       map[string]string
	unreachable bool
}

var _ Provider = (*Mock)(nil)
var _ BuildValidator = (*Mock)(nil)

func NewMock() *Mock {
	return &Mock{
		instances: cmap.New[*mockInstance](),
		snapshots: cmap.New[map[string]string](),
	}
}

func (m *Mock) Kind() sandbox.ProviderKind {
	return sandbox.ProviderMock
}

func (m *Mock) Create(ctx context.Context, opts CreateOptions) (*Instance, error) {
	m.CreateCalls.Add(1)

	sandboxID := "sbx-" + id.Generate()

	previewURL := fmt.Sprintf("https://3000-%s.mock.local", sandboxID)
	if m.PreviewBase != "" {
		previewURL = fmt.Sprintf("%s/%s", m.PreviewBase, sandboxID)
	}

	files := map[string]string{}
	if imageID := opts.TemplateName; imageID != "" {
		if snapshotFiles, ok := m.snapshots.Get(imageID); ok {
			for p, content := range snapshotFiles {
				files[p] = content
			}
		}
	}

	inst := &mockInstance{
		instance: Instance{
			SandboxID:    sandboxID,
			State:        InstanceStateStarted,
			PreviewURL:   previewURL,
			InternalURL:  previewURL,
			AgentVersion: "1.0.0",
			CreatedAt:    time.Now(),
		},
		files: files,
	}
	m.instances.Set(sandboxID, inst)

	instance := inst.instance

	return &instance, nil
}

func (m *Mock) Get(ctx context.Context, sandboxID string) (*Instance, error) {
	inst, ok := m.instances.Get(sandboxID)
	if !ok {
		return nil, &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	inst.mu.RLock()
	defer inst.mu.RUnlock()

	instance := inst.instance

	return &instance, nil
}

func (m *Mock) Start(ctx context.Context, sandboxID string) error {
	return m.setState(sandboxID, InstanceStateStarted)
}

func (m *Mock) Stop(ctx context.Context, sandboxID string) error {
	return m.setState(sandboxID, InstanceStateStopped)
}

func (m *Mock) setState(sandboxID string, state InstanceState) error {
	inst, ok := m.instances.Get(sandboxID)
	if !ok {
		return &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	inst.instance.State = state

	return nil
}

func (m *Mock) Delete(ctx context.Context, sandboxID string) error {
	m.DeleteCalls.Add(1)
	m.instances.Remove(sandboxID)

	return nil
}

func (m *Mock) Probe(ctx context.Context, sandboxID string) error {
	inst, ok := m.instances.Get(sandboxID)
	if !ok {
		return &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	inst.mu.RLock()
	defer inst.mu.RUnlock()

	if inst.unreachable {
		return &sandbox.ProviderUnavailableError{Provider: m.Kind(), Err: fmt.Errorf("sandbox %s is unreachable", sandboxID)}
	}

	if inst.instance.State != InstanceStateStarted {
		return fmt.Errorf("sandbox %s is not running (state %s)", sandboxID, inst.instance.State)
	}

	return nil
}

func (m *Mock) Exec(ctx context.Context, sandboxID string, command string, opts ExecOptions) (sandbox.CommandResult, error) {
	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, sandboxID, command, opts)
	}

	if _, ok := m.instances.Get(sandboxID); !ok {
		return sandbox.CommandResult{}, &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	return sandbox.CommandResult{ExitCode: 0}, nil
}

func (m *Mock) ReadFile(ctx context.Context, sandboxID string, filePath string) (string, error) {
	inst, ok := m.instances.Get(sandboxID)
	if !ok {
		return "", &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	inst.mu.RLock()
	defer inst.mu.RUnlock()

	content, ok := inst.files[filePath]
	if !ok {
		return "", &sandbox.FileNotFoundError{Path: filePath}
	}

	return content, nil
}

func (m *Mock) WriteFile(ctx context.Context, sandboxID string, filePath string, content string) error {
	if m.WriteFileFunc != nil {
		return m.WriteFileFunc(ctx, sandboxID, filePath, content)
	}

	inst, ok := m.instances.Get(sandboxID)
	if !ok {
		return &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	inst.files[filePath] = content

	return nil
}

func (m *Mock) WriteFileBinary(ctx context.Context, sandboxID string, filePath string, data []byte) error {
	return m.WriteFile(ctx, sandboxID, filePath, string(data))
}

func (m *Mock) ListFiles(ctx context.Context, sandboxID string, dirPath string) ([]sandbox.FileInfo, error) {
	inst, ok := m.instances.Get(sandboxID)
	if !ok {
		return nil, &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	inst.mu.RLock()
	defer inst.mu.RUnlock()

	prefix := strings.TrimSuffix(dirPath, "/") + "/"

	var files []sandbox.FileInfo
	for p := range inst.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}

		files = append(files, sandbox.FileInfo{
			Name: path.Base(p),
			Path: p,
			Size: int64(len(inst.files[p])),
		})
	}

	return files, nil
}

func (m *Mock) FindFiles(ctx context.Context, sandboxID string, dirPath string, pattern string) ([]sandbox.FileInfo, error) {
	inst, ok := m.instances.Get(sandboxID)
	if !ok {
		return nil, &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	inst.mu.RLock()
	defer inst.mu.RUnlock()

	var files []sandbox.FileInfo
	for p := range inst.files {
		matched, err := path.Match(pattern, path.Base(p))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}

		if matched && strings.HasPrefix(p, strings.TrimSuffix(dirPath, "/")) {
			files = append(files, sandbox.FileInfo{
				Name: path.Base(p),
				Path: p,
			})
		}
	}

	return files, nil
}

func (m *Mock) PreviewURL(ctx context.Context, sandboxID string, port int) (string, error) {
	if _, ok := m.instances.Get(sandboxID); !ok {
		return "", &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	return fmt.Sprintf("https://%d-%s.mock.local", port, sandboxID), nil
}

func (m *Mock) CreateSnapshot(ctx context.Context, sandboxID string, name string) (string, error) {
	inst, ok := m.instances.Get(sandboxID)
	if !ok {
		return "", &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	inst.mu.RLock()
	defer inst.mu.RUnlock()

	files := make(map[string]string, len(inst.files))
	for p, content := range inst.files {
		files[p] = content
	}

	imageID := "img-" + id.Generate()
	m.snapshots.Set(imageID, files)

	return imageID, nil
}

func (m *Mock) DeleteSnapshot(ctx context.Context, imageID string) error {
	if _, ok := m.snapshots.Get(imageID); !ok {
		return &sandbox.SnapshotNotFoundError{ImageID: imageID}
	}

	m.snapshots.Remove(imageID)

	return nil
}

func (m *Mock) ValidateBuild(ctx context.Context, sandboxID string) (sandbox.BuildValidationResult, error) {
	if m.ValidateBuildFunc != nil {
		return m.ValidateBuildFunc(ctx, sandboxID)
	}

	if _, ok := m.instances.Get(sandboxID); !ok {
		return sandbox.BuildValidationResult{}, &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	return sandbox.BuildValidationResult{Passed: true}, nil
}

// SetAgentVersion overrides the reported agent version.
func (m *Mock) SetAgentVersion(sandboxID string, version string) {
	if inst, ok := m.instances.Get(sandboxID); ok {
		inst.mu.Lock()
		inst.instance.AgentVersion = version
		inst.mu.Unlock()
	}
}

// MarkUnreachable makes subsequent probes of the sandbox fail.
func (m *Mock) MarkUnreachable(sandboxID string) {
	if inst, ok := m.instances.Get(sandboxID); ok {
		inst.mu.Lock()
		inst.unreachable = true
		inst.mu.Unlock()
	}
}

// RemoveFile deletes a file from the sandbox's in-memory tree.
func (m *Mock) RemoveFile(sandboxID string, filePath string) {
	if inst, ok := m.instances.Get(sandboxID); ok {
		inst.mu.Lock()
		delete(inst.files, filePath)
		inst.mu.Unlock()
	}
}

// SnapshotCount reports how many snapshots the provider currently holds.
func (m *Mock) SnapshotCount() int {
	return m.snapshots.Count()
}
