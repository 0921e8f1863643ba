package api

import (
	"time"

	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
)

// Response is the envelope every handler answers with. Failures carry
// Error instead of Data, except for routes whose outcome is a domain
// verdict (/deploy, /build/validate): those stay 200 and embed the
// failure in Data.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SandboxStatus is the payload of the sandbox status and get routes.
type SandboxStatus struct {
	IsActive     bool                 `json:"isActive"`
	Status       sandbox.Status       `json:"status"`
	SandboxID    string               `json:"sandboxID,omitempty"`
	PreviewURL   string               `json:"previewURL,omitempty"`
	ExpiresAt    *time.Time           `json:"expiresAt,omitempty"`
	HealthReason sandbox.HealthReason `json:"healthReason,omitempty"`
	MissingFiles []string             `json:"missingFiles,omitempty"`
}

type CreateSandboxRequest struct {
	ProjectID         string  `json:"projectID" binding:"required"`
	FragmentID        *string `json:"fragmentID,omitempty"`
	TemplateName      *string `json:"templateName,omitempty"`
	IsImportedProject bool    `json:"isImportedProject,omitempty"`
	ImportedFrom      *string `json:"importedFrom,omitempty"`
}

// RestoreFragmentRequest targets the project's current sandbox unless an
// explicit sandboxID overrides it.
type RestoreFragmentRequest struct {
	ProjectID  string `json:"projectID" binding:"required"`
	SandboxID  string `json:"sandboxID,omitempty"`
	FragmentID string `json:"fragmentID" binding:"required"`
}

type RestoreFilesRequest struct {
	SandboxID string            `json:"sandboxID" binding:"required"`
	Files     map[string]string `json:"files" binding:"required"`
}

type ExecuteCommandRequest struct {
	SandboxID string `json:"sandboxID" binding:"required"`
	Command   string `json:"command" binding:"required"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
}

type ReadFileRequest struct {
	SandboxID string `json:"sandboxID" binding:"required"`
	Path      string `json:"path" binding:"required"`
}

type ReadFileResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type WriteFileRequest struct {
	SandboxID string `json:"sandboxID" binding:"required"`
	Path      string `json:"path" binding:"required"`
	Content   string `json:"content"`
}

type ListFilesRequest struct {
	SandboxID string `json:"sandboxID" binding:"required"`
	Path      string `json:"path,omitempty"`
}

type FindFilesRequest struct {
	SandboxID string `json:"sandboxID" binding:"required"`
	Pattern   string `json:"pattern" binding:"required"`
}

type BatchWriteRequest struct {
	SandboxID string               `json:"sandboxID" binding:"required"`
	Files     []sandbox.WriteEntry `json:"files" binding:"required"`
}

type CreateSnapshotRequest struct {
	ProjectID  string `json:"projectID" binding:"required"`
	FragmentID string `json:"fragmentID,omitempty"`
}

type CreateSnapshotResponse struct {
	ImageID string `json:"imageID"`
}

type CleanupSnapshotsRequest struct {
	ProjectID string `json:"projectID" binding:"required"`
	KeepCount *int   `json:"keepCount,omitempty"`
}

type ValidateBuildRequest struct {
	ProjectID string `json:"projectID" binding:"required"`
}

type DeployRequest struct {
	ProjectID string  `json:"projectID" binding:"required"`
	AppName   *string `json:"appName,omitempty"`
}
