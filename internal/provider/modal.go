package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
)

const (
	modalDefaultImage       = "node:22-slim"
	modalDevServerPort      = 3000
	modalDefaultTimeoutSecs = 3600
)

type ModalConfig struct {
	APIURL      string
	TokenID     string
	TokenSecret string
	Environment string

	// BuildCheckURL overrides the gateway base URL for native build
	// validation calls.
	BuildCheckURL string
}

// ModalClient talks to a Modal sandbox gateway. Modal sandboxes are
// single-run: they cannot be restarted once terminated, so Stop and Delete
// both terminate the sandbox.
type ModalClient struct {
	config ModalConfig
	client *retryablehttp.Client
}

var _ Provider = (*ModalClient)(nil)
var _ BuildValidator = (*ModalClient)(nil)

func NewModalClient(config ModalConfig) (*ModalClient, error) {
	if config.TokenID == "" || config.TokenSecret == "" {
		return nil, fmt.Errorf("modal token id and secret are required")
	}

	return &ModalClient{
		config: config,
		client: newRetryableClient(),
	}, nil
}

func (m *ModalClient) Kind() sandbox.ProviderKind {
	return sandbox.ProviderModal
}

func (m *ModalClient) headers() http.Header {
	h := http.Header{}
	h.Set("Modal-Key", m.config.TokenID)
	h.Set("Modal-Secret", m.config.TokenSecret)

	return h
}

func (m *ModalClient) sandboxURL(parts ...string) string {
	return m.config.APIURL + "/v1/sandboxes" + path.Join(append([]string{"/"}, parts...)...)
}

type modalSandbox struct {
	SandboxID string    `json:"sandboxId"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s modalSandbox) instanceState() InstanceState {
	switch s.State {
	case "running":
		return InstanceStateStarted
	case "error":
		return InstanceStateError
	default:
		return InstanceStateStopped
	}
}

type modalCreateRequest struct {
	Image       string            `json:"image"`
	Environment string            `json:"environment"`
	Env         map[string]string `json:"env,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	TimeoutSecs int64             `json:"timeoutSeconds"`
}

func (m *ModalClient) Create(ctx context.Context, opts CreateOptions) (*Instance, error) {
	image := opts.TemplateName
	if image == "" {
		image = modalDefaultImage
	}

	labels := map[string]string{"project": opts.ProjectID}
	for k, v := range opts.Labels {
		labels[k] = v
	}

	body := modalCreateRequest{
		Image:       image,
		Environment: m.config.Environment,
		Env:         opts.Env,
		Labels:      labels,
		TimeoutSecs: modalDefaultTimeoutSecs,
	}
	if opts.TTL > 0 {
		body.TimeoutSecs = int64(opts.TTL.Seconds())
	}

	var created modalSandbox
	err := doJSON(ctx, m.client, m.Kind(), http.MethodPost, m.config.APIURL+"/v1/sandboxes", m.headers(), body, &created)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}

	previewURL, err := m.PreviewURL(ctx, created.SandboxID, modalDevServerPort)
	if err != nil {
		return nil, err
	}

	return &Instance{
		SandboxID:   created.SandboxID,
		State:       InstanceStateStarted,
		PreviewURL:  previewURL,
		InternalURL: previewURL,
		CreatedAt:   created.CreatedAt,
	}, nil
}

func (m *ModalClient) Get(ctx context.Context, sandboxID string) (*Instance, error) {
	var sbx modalSandbox
	err := doJSON(ctx, m.client, m.Kind(), http.MethodGet, m.sandboxURL(sandboxID), m.headers(), nil, &sbx)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, &sandbox.NotFoundError{SandboxID: sandboxID}
		}

		return nil, err
	}

	return &Instance{
		SandboxID: sbx.SandboxID,
		State:     sbx.instanceState(),
		CreatedAt: sbx.CreatedAt,
	}, nil
}

func (m *ModalClient) Start(ctx context.Context, sandboxID string) error {
	instance, err := m.Get(ctx, sandboxID)
	if err != nil {
		return err
	}

	if instance.State != InstanceStateStarted {
		return fmt.Errorf("modal sandbox %s cannot be restarted", sandboxID)
	}

	return nil
}

func (m *ModalClient) Stop(ctx context.Context, sandboxID string) error {
	return m.terminate(ctx, sandboxID)
}

func (m *ModalClient) Delete(ctx context.Context, sandboxID string) error {
	return m.terminate(ctx, sandboxID)
}

func (m *ModalClient) terminate(ctx context.Context, sandboxID string) error {
	err := doJSON(ctx, m.client, m.Kind(), http.MethodPost, m.sandboxURL(sandboxID, "terminate"), m.headers(), nil, nil)
	if errors.Is(err, errNotFound) {
		return &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	return err
}

func (m *ModalClient) Probe(ctx context.Context, sandboxID string) error {
	instance, err := m.Get(ctx, sandboxID)
	if err != nil {
		return err
	}

	if instance.State != InstanceStateStarted {
		return fmt.Errorf("sandbox %s is not running (state %s)", sandboxID, instance.State)
	}

	return nil
}

type modalExecRequest struct {
	Command     []string `json:"command"`
	Workdir     string   `json:"workdir,omitempty"`
	TimeoutSecs int64    `json:"timeoutSeconds,omitempty"`
}

type modalExecResponse struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

func (m *ModalClient) Exec(ctx context.Context, sandboxID string, command string, opts ExecOptions) (sandbox.CommandResult, error) {
	body := modalExecRequest{
		Command: []string{"bash", "-c", command},
		Workdir: opts.Cwd,
	}
	if opts.Timeout > 0 {
		body.TimeoutSecs = int64(opts.Timeout.Seconds())

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var result modalExecResponse
	err := doJSON(ctx, m.client, m.Kind(), http.MethodPost, m.sandboxURL(sandboxID, "exec"), m.headers(), body, &result)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return sandbox.CommandResult{}, &sandbox.TimeoutError{Op: "command execution", Limit: opts.Timeout}
		}
		if errors.Is(err, errNotFound) {
			return sandbox.CommandResult{}, &sandbox.NotFoundError{SandboxID: sandboxID}
		}

		return sandbox.CommandResult{}, err
	}

	return sandbox.CommandResult{
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}, nil
}

type modalFileRequest struct {
	Path     string `json:"path"`
	Content  string `json:"content,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

type modalFileResponse struct {
	Content string `json:"content"`
}

func (m *ModalClient) ReadFile(ctx context.Context, sandboxID string, filePath string) (string, error) {
	body := modalFileRequest{Path: filePath}

	var result modalFileResponse
	err := doJSON(ctx, m.client, m.Kind(), http.MethodPost, m.sandboxURL(sandboxID, "files", "read"), m.headers(), body, &result)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return "", &sandbox.FileNotFoundError{Path: filePath}
		}

		return "", err
	}

	return result.Content, nil
}

func (m *ModalClient) WriteFile(ctx context.Context, sandboxID string, filePath string, content string) error {
	return m.writeFile(ctx, sandboxID, modalFileRequest{Path: filePath, Content: content})
}

func (m *ModalClient) WriteFileBinary(ctx context.Context, sandboxID string, filePath string, data []byte) error {
	return m.writeFile(ctx, sandboxID, modalFileRequest{
		Path:     filePath,
		Content:  base64.StdEncoding.EncodeToString(data),
		Encoding: "base64",
	})
}

func (m *ModalClient) writeFile(ctx context.Context, sandboxID string, body modalFileRequest) error {
	err := doJSON(ctx, m.client, m.Kind(), http.MethodPost, m.sandboxURL(sandboxID, "files", "write"), m.headers(), body, nil)
	if errors.Is(err, errNotFound) {
		return &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	return err
}

type modalListRequest struct {
	Path    string `json:"path"`
	Pattern string `json:"pattern,omitempty"`
}

type modalFileEntry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	IsDir   bool      `json:"isDir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

type modalListResponse struct {
	Entries []modalFileEntry `json:"entries"`
}

func (m *ModalClient) ListFiles(ctx context.Context, sandboxID string, dirPath string) ([]sandbox.FileInfo, error) {
	return m.listFiles(ctx, sandboxID, "list", modalListRequest{Path: dirPath})
}

func (m *ModalClient) FindFiles(ctx context.Context, sandboxID string, dirPath string, pattern string) ([]sandbox.FileInfo, error) {
	return m.listFiles(ctx, sandboxID, "search", modalListRequest{Path: dirPath, Pattern: pattern})
}

func (m *ModalClient) listFiles(ctx context.Context, sandboxID string, op string, body modalListRequest) ([]sandbox.FileInfo, error) {
	var result modalListResponse
	err := doJSON(ctx, m.client, m.Kind(), http.MethodPost, m.sandboxURL(sandboxID, "files", op), m.headers(), body, &result)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, &sandbox.FileNotFoundError{Path: body.Path}
		}

		return nil, err
	}

	files := make([]sandbox.FileInfo, 0, len(result.Entries))
	for _, entry := range result.Entries {
		files = append(files, sandbox.FileInfo{
			Name:    entry.Name,
			Path:    entry.Path,
			IsDir:   entry.IsDir,
			Size:    entry.Size,
			ModTime: entry.ModTime,
		})
	}

	return files, nil
}

type modalTunnel struct {
	Port int    `json:"port"`
	URL  string `json:"url"`
}

type modalTunnelsResponse struct {
	Tunnels []modalTunnel `json:"tunnels"`
}

func (m *ModalClient) PreviewURL(ctx context.Context, sandboxID string, port int) (string, error) {
	var result modalTunnelsResponse
	err := doJSON(ctx, m.client, m.Kind(), http.MethodGet, m.sandboxURL(sandboxID, "tunnels"), m.headers(), nil, &result)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return "", &sandbox.NotFoundError{SandboxID: sandboxID}
		}

		return "", err
	}

	for _, tunnel := range result.Tunnels {
		if tunnel.Port == port {
			return tunnel.URL, nil
		}
	}

	return "", fmt.Errorf("no tunnel for port %d on sandbox %s", port, sandboxID)
}

type modalSnapshotRequest struct {
	Name string `json:"name"`
}

type modalSnapshotResponse struct {
	ImageID string `json:"imageId"`
}

func (m *ModalClient) CreateSnapshot(ctx context.Context, sandboxID string, name string) (string, error) {
	body := modalSnapshotRequest{Name: name}

	var result modalSnapshotResponse
	err := doJSON(ctx, m.client, m.Kind(), http.MethodPost, m.sandboxURL(sandboxID, "snapshot"), m.headers(), body, &result)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return "", &sandbox.NotFoundError{SandboxID: sandboxID}
		}

		return "", err
	}

	return result.ImageID, nil
}

func (m *ModalClient) DeleteSnapshot(ctx context.Context, imageID string) error {
	err := doJSON(ctx, m.client, m.Kind(), http.MethodDelete, m.config.APIURL+"/v1/images/"+imageID, m.headers(), nil, nil)
	if errors.Is(err, errNotFound) {
		return &sandbox.SnapshotNotFoundError{ImageID: imageID}
	}

	return err
}

type modalTypecheckResponse struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues"`
}

// ValidateBuild runs the gateway's native typecheck instead of executing the
// compiler inside the sandbox.
func (m *ModalClient) ValidateBuild(ctx context.Context, sandboxID string) (sandbox.BuildValidationResult, error) {
	u := m.sandboxURL(sandboxID, "typecheck")
	if m.config.BuildCheckURL != "" {
		u = m.config.BuildCheckURL + "/v1/sandboxes/" + sandboxID + "/typecheck"
	}

	var result modalTypecheckResponse
	err := doJSON(ctx, m.client, m.Kind(), http.MethodPost, u, m.headers(), nil, &result)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return sandbox.BuildValidationResult{}, &sandbox.NotFoundError{SandboxID: sandboxID}
		}

		return sandbox.BuildValidationResult{}, err
	}

	return sandbox.BuildValidationResult{
		Passed: result.Passed,
		Issues: result.Issues,
	}, nil
}
