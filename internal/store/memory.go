package store

import (
	"context"
	"slices"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
)

// Memory backs local development and tests. It mirrors the postgres store's
// semantics, including newest-first snapshot ordering.
type Memory struct {
	fragments   cmap.ConcurrentMap[string, *Fragment]
	snapshots   cmap.ConcurrentMap[string, SnapshotRecord]
	buildStatus cmap.ConcurrentMap[string, ProjectBuildStatus]
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		fragments:   cmap.New[*Fragment](),
		snapshots:   cmap.New[SnapshotRecord](),
		buildStatus: cmap.New[ProjectBuildStatus](),
	}
}

// SeedFragment registers a fragment, standing in for the app builder writing
// to postgres.
func (m *Memory) SeedFragment(fragment Fragment) {
	if fragment.CreatedAt.IsZero() {
		fragment.CreatedAt = time.Now()
	}

	m.fragments.Set(fragment.FragmentID, &fragment)
}

func (m *Memory) GetFragment(ctx context.Context, fragmentID string) (*Fragment, error) {
	fragment, ok := m.fragments.Get(fragmentID)
	if !ok {
		return nil, ErrFragmentNotFound
	}

	return fragment, nil
}

func (m *Memory) LatestFragment(ctx context.Context, projectID string) (*Fragment, error) {
	var latest *Fragment
	for _, fragment := range m.fragments.Items() {
		if fragment.ProjectID != projectID {
			continue
		}

		if latest == nil || fragment.CreatedAt.After(latest.CreatedAt) {
			latest = fragment
		}
	}

	if latest == nil {
		return nil, ErrFragmentNotFound
	}

	return latest, nil
}

func (m *Memory) CreateSnapshot(ctx context.Context, record SnapshotRecord) error {
	m.snapshots.SetIfAbsent(record.ImageID, record)

	return nil
}

func (m *Memory) ListSnapshots(ctx context.Context, projectID string) ([]SnapshotRecord, error) {
	var records []SnapshotRecord
	for _, record := range m.snapshots.Items() {
		if record.ProjectID == projectID {
			records = append(records, record)
		}
	}

	slices.SortFunc(records, func(a, b SnapshotRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return records, nil
}

func (m *Memory) DeleteSnapshot(ctx context.Context, imageID string) (bool, error) {
	_, existed := m.snapshots.Pop(imageID)

	return existed, nil
}

func (m *Memory) SetBuildStatus(ctx context.Context, projectID string, status sandbox.BuildStatus, buildError string) error {
	m.buildStatus.Set(projectID, ProjectBuildStatus{
		ProjectID:  projectID,
		Status:     status,
		BuildError: buildError,
		UpdatedAt:  time.Now(),
	})

	return nil
}

func (m *Memory) GetBuildStatus(ctx context.Context, projectID string) (*ProjectBuildStatus, error) {
	buildStatus, ok := m.buildStatus.Get(projectID)
	if !ok {
		return nil, ErrBuildStatusNotFound
	}

	return &buildStatus, nil
}

func (m *Memory) Close() {}
