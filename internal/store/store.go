// Package store persists the project state that outlives any single sandbox:
// code fragments, snapshot records and build status. Fragments are written by
// the app-builder platform and are read-only here.
package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
)

var (
	ErrFragmentNotFound    = errors.New("fragment not found")
	ErrBuildStatusNotFound = errors.New("build status not found")
)

// Fragment is an immutable, versioned file-set produced by the app builder.
type Fragment struct {
	FragmentID string
	ProjectID  string
	Files      map[string]string
	CreatedAt  time.Time
}

// SnapshotRecord ties a provider image to the fragment it was taken from.
// Deleting a record never affects a running sandbox and vice versa.
type SnapshotRecord struct {
	ImageID    string
	FragmentID string
	ProjectID  string
	CreatedAt  time.Time
}

// ProjectBuildStatus is the persisted outcome of the last build validation.
type ProjectBuildStatus struct {
	ProjectID  string
	Status     sandbox.BuildStatus
	BuildError string
	UpdatedAt  time.Time
}

type Store interface {
	GetFragment(ctx context.Context, fragmentID string) (*Fragment, error)
	LatestFragment(ctx context.Context, projectID string) (*Fragment, error)

	CreateSnapshot(ctx context.Context, record SnapshotRecord) error
	// ListSnapshots returns the project's snapshot records, newest first.
	ListSnapshots(ctx context.Context, projectID string) ([]SnapshotRecord, error)
	DeleteSnapshot(ctx context.Context, imageID string) (bool, error)

	SetBuildStatus(ctx context.Context, projectID string, status sandbox.BuildStatus, buildError string) error
	GetBuildStatus(ctx context.Context, projectID string) (*ProjectBuildStatus, error)

	Close()
}

// New selects the postgres store when a connection string is configured and
// falls back to the in-memory store otherwise.
func New(ctx context.Context, config cfg.Config) (Store, error) {
	if config.PostgresConnectionString == "" {
		zap.L().Warn("POSTGRES_CONNECTION_STRING not set, using in-memory project store")

		return NewMemory(), nil
	}

	return NewPostgres(ctx, config.PostgresConnectionString)
}
