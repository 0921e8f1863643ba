package sandbox

import (
	"time"
)

// ProviderKind identifies which sandbox backend a handle belongs to.
type ProviderKind string

const (
	ProviderDaytona ProviderKind = "daytona"
	ProviderModal   ProviderKind = "modal"
	ProviderMock    ProviderKind = "mock"
)

// Handle is the registry record binding a project to its live sandbox.
// A handle is never mutated in place: recreation provisions a new sandbox
// and swaps the registry entry for a fresh handle.
type Handle struct {
	SandboxID    string       `json:"sandboxID"`
	ProjectID    string       `json:"projectID"`
	PreviewURL   string       `json:"previewURL"`
	InternalURL  string       `json:"internalURL"`
	ProviderKind ProviderKind `json:"providerKind"`

	// TemplateName records what the sandbox was provisioned from: a provider
	// template or a snapshot image.
	TemplateName string `json:"templateName,omitempty"`

	// ImportedFrom is set for projects imported from an external source.
	// Imported projects get a longer creation timeout and a dependency
	// install on every recreation.
	ImportedFrom string `json:"importedFrom,omitempty"`

	// FragmentID is the code fragment restored into the sandbox before the
	// handle was published.
	FragmentID string `json:"fragmentID,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h Handle) Expired(now time.Time) bool {
	return !h.ExpiresAt.IsZero() && now.After(h.ExpiresAt)
}

// CommandResult is returned synchronously to the caller and never persisted.
type CommandResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	IsDir   bool      `json:"isDir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

type WriteEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WriteResult reports one file's outcome of a batch write. Batch writes are
// applied independently per file, a partial failure is reported, not rolled
// back.
type WriteResult struct {
	Path    string `json:"path"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DeployResult is always success-shaped: a failed deployment is reported in
// the payload, never raised.
type DeployResult struct {
	Success       bool     `json:"success"`
	DeploymentURL string   `json:"deploymentURL,omitempty"`
	Error         string   `json:"error,omitempty"`
	Logs          []string `json:"logs"`
}
