package sandbox

import (
	"fmt"
	"time"
)

type NotFoundError struct {
	SandboxID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("sandbox %s not found", e.SandboxID)
}

type SnapshotNotFoundError struct {
	ImageID string
}

func (e *SnapshotNotFoundError) Error() string {
	return fmt.Sprintf("snapshot %s not found", e.ImageID)
}

type FileNotFoundError struct {
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("file %s not found", e.Path)
}

// ProviderUnavailableError means the remote sandbox service could not be
// reached. Fatal for the current request, retryable later.
type ProviderUnavailableError struct {
	Provider ProviderKind
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %s", e.Provider, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error {
	return e.Err
}

// TimeoutError is surfaced distinctly from generic failure so callers can
// retry with a longer bound.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %dms", e.Op, e.Limit.Milliseconds())
}

// RecoveryInProgressError is a "try again shortly" signal, not a failure:
// another caller's recovery of the same project is still in flight.
type RecoveryInProgressError struct {
	ProjectID string
}

func (e *RecoveryInProgressError) Error() string {
	return fmt.Sprintf("sandbox recovery for project %s is in progress, retry shortly", e.ProjectID)
}

// BuildFailedError is normal control flow out of the build validation gate,
// not an infrastructure error.
type BuildFailedError struct {
	Issues []string
}

func (e *BuildFailedError) Error() string {
	return fmt.Sprintf("build validation failed with %d issue(s)", len(e.Issues))
}

// PreviewUnhealthyError embeds the probe's reason so the failure message is
// actionable downstream.
type PreviewUnhealthyError struct {
	URL    string
	Reason string
}

func (e *PreviewUnhealthyError) Error() string {
	return fmt.Sprintf("preview %s is not healthy: %s", e.URL, e.Reason)
}
