package sandbox

// Status is the externally visible lifecycle state of a project's sandbox.
type Status string

const (
	StatusRunning    Status = "running"
	StatusUnhealthy  Status = "unhealthy"
	StatusNotFound   Status = "not_found"
	StatusTerminated Status = "terminated"
)

// HealthReason classifies why a probe flagged a sandbox as broken.
type HealthReason string

const (
	ReasonUnreachable  HealthReason = "UNREACHABLE"
	ReasonMissingFiles HealthReason = "MISSING_FILES"
	ReasonStale        HealthReason = "STALE"
)

// HealthVerdict is the result of a health probe. It is recomputed on every
// check and never persisted.
type HealthVerdict struct {
	Broken       bool         `json:"broken"`
	Reason       HealthReason `json:"reason,omitempty"`
	MissingFiles []string     `json:"missingFiles,omitempty"`
}

func HealthyVerdict() HealthVerdict {
	return HealthVerdict{Broken: false}
}

func BrokenVerdict(reason HealthReason, missingFiles ...string) HealthVerdict {
	return HealthVerdict{
		Broken:       true,
		Reason:       reason,
		MissingFiles: missingFiles,
	}
}

// BuildStatus is the persisted outcome of the build validation gate.
type BuildStatus string

const (
	BuildStatusReady BuildStatus = "READY"
	BuildStatusError BuildStatus = "ERROR"
)

// BuildValidationResult carries the gate's pass/fail outcome plus the parsed
// issue list for the caller's auto-fix loop.
type BuildValidationResult struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues"`
}
