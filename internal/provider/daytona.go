package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
)

const (
	daytonaDefaultTemplate = "node-22"
	daytonaDevServerPort   = 3000

	// How often the create flow polls for the sandbox to reach started state.
	daytonaStatePollInterval = 2 * time.Second
)

type DaytonaConfig struct {
	APIURL string
	APIKey string
	Target string

	// PreviewDomain, when set, lets preview URLs be derived locally instead
	// of a round trip to the preview-url endpoint.
	PreviewDomain string
}

// DaytonaClient talks to the Daytona REST API and its per-sandbox toolbox
// endpoints for process execution and file transfer.
type DaytonaClient struct {
	config DaytonaConfig
	client *retryablehttp.Client
}

var _ Provider = (*DaytonaClient)(nil)

func NewDaytonaClient(config DaytonaConfig) (*DaytonaClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("daytona API key is required")
	}

	return &DaytonaClient{
		config: config,
		client: newRetryableClient(),
	}, nil
}

func (d *DaytonaClient) Kind() sandbox.ProviderKind {
	return sandbox.ProviderDaytona
}

func (d *DaytonaClient) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+d.config.APIKey)

	return h
}

type daytonaSandbox struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	Target       string    `json:"target"`
	AgentVersion string    `json:"agentVersion"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (s daytonaSandbox) instanceState() InstanceState {
	switch s.State {
	case "started":
		return InstanceStateStarted
	case "error", "build_failed", "destroyed":
		return InstanceStateError
	default:
		return InstanceStateStopped
	}
}

type daytonaCreateRequest struct {
	Snapshot string            `json:"snapshot"`
	Target   string            `json:"target"`
	Env      map[string]string `json:"env,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`

	// Both intervals are minutes, per the Daytona API.
	AutoStopInterval   int64 `json:"autoStopInterval,omitempty"`
	AutoDeleteInterval int64 `json:"autoDeleteInterval,omitempty"`
}

func (d *DaytonaClient) Create(ctx context.Context, opts CreateOptions) (*Instance, error) {
	template := opts.TemplateName
	if template == "" {
		template = daytonaDefaultTemplate
	}

	labels := map[string]string{"project": opts.ProjectID}
	for k, v := range opts.Labels {
		labels[k] = v
	}

	body := daytonaCreateRequest{
		Snapshot: template,
		Target:   d.config.Target,
		Env:      opts.Env,
		Labels:   labels,
	}
	if opts.TTL > 0 {
		body.AutoStopInterval = int64(opts.TTL.Minutes())
		body.AutoDeleteInterval = int64(opts.TTL.Minutes())
	}

	var created daytonaSandbox
	err := doJSON(ctx, d.client, d.Kind(), http.MethodPost, d.config.APIURL+"/sandbox", d.headers(), body, &created)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}

	if created.instanceState() != InstanceStateStarted {
		if err := d.Start(ctx, created.ID); err != nil {
			return nil, err
		}
	}

	if err := d.waitForStarted(ctx, created.ID); err != nil {
		return nil, err
	}

	previewURL, err := d.PreviewURL(ctx, created.ID, daytonaDevServerPort)
	if err != nil {
		return nil, err
	}

	return &Instance{
		SandboxID:   created.ID,
		State:       InstanceStateStarted,
		PreviewURL:  previewURL,
		InternalURL: previewURL,
		CreatedAt:   created.CreatedAt,
	}, nil
}

// waitForStarted polls sandbox state until started, bounded by ctx.
func (d *DaytonaClient) waitForStarted(ctx context.Context, sandboxID string) error {
	ticker := time.NewTicker(daytonaStatePollInterval)
	defer ticker.Stop()

	for {
		instance, err := d.Get(ctx, sandboxID)
		if err != nil {
			return err
		}

		switch instance.State {
		case InstanceStateStarted:
			return nil
		case InstanceStateError:
			return fmt.Errorf("sandbox %s failed to start", sandboxID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *DaytonaClient) Get(ctx context.Context, sandboxID string) (*Instance, error) {
	var sbx daytonaSandbox
	err := doJSON(ctx, d.client, d.Kind(), http.MethodGet, d.config.APIURL+"/sandbox/"+sandboxID, d.headers(), nil, &sbx)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, &sandbox.NotFoundError{SandboxID: sandboxID}
		}

		return nil, err
	}

	return &Instance{
		SandboxID:    sbx.ID,
		State:        sbx.instanceState(),
		AgentVersion: sbx.AgentVersion,
		CreatedAt:    sbx.CreatedAt,
	}, nil
}

func (d *DaytonaClient) Start(ctx context.Context, sandboxID string) error {
	err := doJSON(ctx, d.client, d.Kind(), http.MethodPost, d.config.APIURL+"/sandbox/"+sandboxID+"/start", d.headers(), nil, nil)
	if errors.Is(err, errNotFound) {
		return &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	return err
}

func (d *DaytonaClient) Stop(ctx context.Context, sandboxID string) error {
	err := doJSON(ctx, d.client, d.Kind(), http.MethodPost, d.config.APIURL+"/sandbox/"+sandboxID+"/stop", d.headers(), nil, nil)
	if errors.Is(err, errNotFound) {
		return &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	return err
}

func (d *DaytonaClient) Delete(ctx context.Context, sandboxID string) error {
	err := doJSON(ctx, d.client, d.Kind(), http.MethodDelete, d.config.APIURL+"/sandbox/"+sandboxID, d.headers(), nil, nil)
	if errors.Is(err, errNotFound) {
		return &sandbox.NotFoundError{SandboxID: sandboxID}
	}

	return err
}

func (d *DaytonaClient) Probe(ctx context.Context, sandboxID string) error {
	instance, err := d.Get(ctx, sandboxID)
	if err != nil {
		return err
	}

	if instance.State != InstanceStateStarted {
		return fmt.Errorf("sandbox %s is not running (state %s)", sandboxID, instance.State)
	}

	return nil
}

func (d *DaytonaClient) toolboxURL(sandboxID string, parts ...string) string {
	return d.config.APIURL + "/toolbox/" + sandboxID + "/toolbox/" + path.Join(parts...)
}

type daytonaExecRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
	Timeout int64  `json:"timeout,omitempty"`
}

type daytonaExecResponse struct {
	ExitCode int    `json:"exitCode"`
	Result   string `json:"result"`
}

func (d *DaytonaClient) Exec(ctx context.Context, sandboxID string, command string, opts ExecOptions) (sandbox.CommandResult, error) {
	body := daytonaExecRequest{
		Command: command,
		Cwd:     opts.Cwd,
	}
	if opts.Timeout > 0 {
		body.Timeout = int64(opts.Timeout.Seconds())

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var result daytonaExecResponse
	err := doJSON(ctx, d.client, d.Kind(), http.MethodPost, d.toolboxURL(sandboxID, "process", "execute"), d.headers(), body, &result)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return sandbox.CommandResult{}, &sandbox.TimeoutError{Op: "command execution", Limit: opts.Timeout}
		}
		if errors.Is(err, errNotFound) {
			return sandbox.CommandResult{}, &sandbox.NotFoundError{SandboxID: sandboxID}
		}

		return sandbox.CommandResult{}, err
	}

	// The toolbox API returns combined output; stderr is not separated.
	return sandbox.CommandResult{
		ExitCode: result.ExitCode,
		Stdout:   result.Result,
	}, nil
}

func (d *DaytonaClient) ReadFile(ctx context.Context, sandboxID string, filePath string) (string, error) {
	u := d.toolboxURL(sandboxID, "files", "download") + "?path=" + url.QueryEscape(filePath)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header = d.headers()

	resp, err := d.client.Do(req)
	if err != nil {
		return "", &sandbox.ProviderUnavailableError{Provider: d.Kind(), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", &sandbox.FileNotFoundError{Path: filePath}
	case resp.StatusCode >= http.StatusBadRequest:
		data, _ := io.ReadAll(resp.Body)

		return "", fmt.Errorf("daytona API error (status %d): %s", resp.StatusCode, data)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read file content: %w", err)
	}

	return string(data), nil
}

func (d *DaytonaClient) WriteFile(ctx context.Context, sandboxID string, filePath string, content string) error {
	return d.WriteFileBinary(ctx, sandboxID, filePath, []byte(content))
}

func (d *DaytonaClient) WriteFileBinary(ctx context.Context, sandboxID string, filePath string, data []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", path.Base(filePath))
	if err != nil {
		return fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to build multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to build multipart body: %w", err)
	}

	u := d.toolboxURL(sandboxID, "files", "upload") + "?path=" + url.QueryEscape(filePath)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, u, buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header = d.headers()
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return &sandbox.ProviderUnavailableError{Provider: d.Kind(), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &sandbox.NotFoundError{SandboxID: sandboxID}
	case resp.StatusCode >= http.StatusBadRequest:
		respData, _ := io.ReadAll(resp.Body)

		return fmt.Errorf("daytona API error (status %d): %s", resp.StatusCode, respData)
	}

	return nil
}

type daytonaFileInfo struct {
	Name    string    `json:"name"`
	IsDir   bool      `json:"isDir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

func (d *DaytonaClient) ListFiles(ctx context.Context, sandboxID string, dirPath string) ([]sandbox.FileInfo, error) {
	u := d.toolboxURL(sandboxID, "files") + "?path=" + url.QueryEscape(dirPath)

	var entries []daytonaFileInfo
	err := doJSON(ctx, d.client, d.Kind(), http.MethodGet, u, d.headers(), nil, &entries)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, &sandbox.FileNotFoundError{Path: dirPath}
		}

		return nil, err
	}

	files := make([]sandbox.FileInfo, 0, len(entries))
	for _, entry := range entries {
		files = append(files, sandbox.FileInfo{
			Name:    entry.Name,
			Path:    path.Join(dirPath, entry.Name),
			IsDir:   entry.IsDir,
			Size:    entry.Size,
			ModTime: entry.ModTime,
		})
	}

	return files, nil
}

type daytonaSearchResponse struct {
	Files []string `json:"files"`
}

func (d *DaytonaClient) FindFiles(ctx context.Context, sandboxID string, dirPath string, pattern string) ([]sandbox.FileInfo, error) {
	u := d.toolboxURL(sandboxID, "files", "search") + "?path=" + url.QueryEscape(dirPath) + "&pattern=" + url.QueryEscape(pattern)

	var result daytonaSearchResponse
	err := doJSON(ctx, d.client, d.Kind(), http.MethodGet, u, d.headers(), nil, &result)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, &sandbox.FileNotFoundError{Path: dirPath}
		}

		return nil, err
	}

	files := make([]sandbox.FileInfo, 0, len(result.Files))
	for _, match := range result.Files {
		files = append(files, sandbox.FileInfo{
			Name: path.Base(match),
			Path: match,
		})
	}

	return files, nil
}

type daytonaPreviewResponse struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

func (d *DaytonaClient) PreviewURL(ctx context.Context, sandboxID string, port int) (string, error) {
	if d.config.PreviewDomain != "" {
		return fmt.Sprintf("https://%d-%s.%s", port, sandboxID, d.config.PreviewDomain), nil
	}

	u := fmt.Sprintf("%s/sandbox/%s/ports/%d/preview-url", d.config.APIURL, sandboxID, port)

	var preview daytonaPreviewResponse
	err := doJSON(ctx, d.client, d.Kind(), http.MethodGet, u, d.headers(), nil, &preview)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return "", &sandbox.NotFoundError{SandboxID: sandboxID}
		}

		return "", err
	}

	return preview.URL, nil
}

type daytonaSnapshotRequest struct {
	Name string `json:"name"`
}

type daytonaSnapshotResponse struct {
	ID string `json:"id"`
}

func (d *DaytonaClient) CreateSnapshot(ctx context.Context, sandboxID string, name string) (string, error) {
	body := daytonaSnapshotRequest{Name: name}

	var snapshot daytonaSnapshotResponse
	err := doJSON(ctx, d.client, d.Kind(), http.MethodPost, d.config.APIURL+"/sandbox/"+sandboxID+"/snapshot", d.headers(), body, &snapshot)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return "", &sandbox.NotFoundError{SandboxID: sandboxID}
		}

		return "", err
	}

	return snapshot.ID, nil
}

func (d *DaytonaClient) DeleteSnapshot(ctx context.Context, imageID string) error {
	err := doJSON(ctx, d.client, d.Kind(), http.MethodDelete, d.config.APIURL+"/snapshots/"+imageID, d.headers(), nil, nil)
	if errors.Is(err, errNotFound) {
		return &sandbox.SnapshotNotFoundError{ImageID: imageID}
	}

	return err
}
