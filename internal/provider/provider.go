// Package provider abstracts the third-party sandbox backends. Each backend
// exposes the same narrow capability set; components dispatch on optional
// capability interfaces instead of ad hoc conditionals.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
)

// Instance is the provider-side view of a sandbox.
type Instance struct {
	SandboxID   string
	State       InstanceState
	PreviewURL  string
	InternalURL string

	// AgentVersion is the version of the in-sandbox agent, used to gate
	// capabilities that older agents do not support.
	AgentVersion string

	CreatedAt time.Time
}

type InstanceState string

const (
	InstanceStateStarted InstanceState = "started"
	InstanceStateStopped InstanceState = "stopped"
	InstanceStateError   InstanceState = "error"
)

// CreateOptions configures sandbox creation.
type CreateOptions struct {
	ProjectID    string
	TemplateName string
	Env          map[string]string
	Labels       map[string]string

	// TTL is how long the sandbox may live before the backend may reclaim it.
	TTL time.Duration
}

// ExecOptions configures non-interactive command execution.
type ExecOptions struct {
	Cwd     string
	Env     map[string]string
	Timeout time.Duration
}

// Provider is the uniform capability over sandbox backends. Every call may
// block on a remote API and carries an explicit timeout via ctx or options.
type Provider interface {
	Kind() sandbox.ProviderKind

	Create(ctx context.Context, opts CreateOptions) (*Instance, error)
	Get(ctx context.Context, sandboxID string) (*Instance, error)
	Start(ctx context.Context, sandboxID string) error
	Stop(ctx context.Context, sandboxID string) error
	Delete(ctx context.Context, sandboxID string) error

	// Probe is a lightweight, side-effect-free reachability check.
	Probe(ctx context.Context, sandboxID string) error

	Exec(ctx context.Context, sandboxID string, command string, opts ExecOptions) (sandbox.CommandResult, error)

	ReadFile(ctx context.Context, sandboxID string, path string) (string, error)
	WriteFile(ctx context.Context, sandboxID string, path string, content string) error
	WriteFileBinary(ctx context.Context, sandboxID string, path string, data []byte) error
	ListFiles(ctx context.Context, sandboxID string, path string) ([]sandbox.FileInfo, error)
	FindFiles(ctx context.Context, sandboxID string, path string, pattern string) ([]sandbox.FileInfo, error)

	PreviewURL(ctx context.Context, sandboxID string, port int) (string, error)

	CreateSnapshot(ctx context.Context, sandboxID string, name string) (string, error)
	DeleteSnapshot(ctx context.Context, imageID string) error
}

// BuildValidator is implemented by backends with a native build validation
// routine, used instead of running a typecheck command inside the sandbox.
type BuildValidator interface {
	ValidateBuild(ctx context.Context, sandboxID string) (sandbox.BuildValidationResult, error)
}

// New constructs the provider selected by SANDBOX_PROVIDER.
func New(config cfg.Config) (Provider, error) {
	switch sandbox.ProviderKind(config.SandboxProvider) {
	case sandbox.ProviderDaytona:
		return NewDaytonaClient(DaytonaConfig{
			APIURL:        config.DaytonaAPIURL,
			APIKey:        config.DaytonaAPIKey,
			Target:        config.DaytonaTarget,
			PreviewDomain: config.DaytonaPreviewDomain,
		})
	case sandbox.ProviderModal:
		return NewModalClient(ModalConfig{
			APIURL:        config.ModalAPIURL,
			TokenID:       config.ModalTokenID,
			TokenSecret:   config.ModalTokenSecret,
			Environment:   config.ModalEnvironment,
			BuildCheckURL: config.ModalBuildCheckURL,
		})
	case sandbox.ProviderMock:
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported sandbox provider: %s", config.SandboxProvider)
	}
}
