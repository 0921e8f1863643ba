// Package snapshot manages provider disk snapshots of sandboxes.
// Snapshots are independent of the live sandbox: deleting a snapshot
// never touches a running sandbox and deleting a sandbox never touches
// its snapshots.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/appmint-dev/sandbox-orchestrator/internal/provider"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/internal/store"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/id"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/logger"
)

// CleanupResult lists the snapshots a cleanup pass removed and the ones
// it retained, newest first.
type CleanupResult struct {
	Deleted []string `json:"deleted"`
	Kept    []string `json:"kept"`
}

// Manager creates, prunes and deletes sandbox snapshots.
type Manager struct {
	provider provider.Provider
	store    store.Store
}

func NewManager(p provider.Provider, st store.Store) *Manager {
	return &Manager{
		provider: p,
		store:    st,
	}
}

// Create snapshots the sandbox disk and records the image against the
// project and the fragment it captured.
func (m *Manager) Create(ctx context.Context, sandboxID string, fragmentID string, projectID string) (string, error) {
	name := fmt.Sprintf("%s-%s", projectID, id.Generate())

	imageID, err := m.provider.CreateSnapshot(ctx, sandboxID, name)
	if err != nil {
		return "", fmt.Errorf("failed to snapshot sandbox %s: %w", sandboxID, err)
	}

	record := store.SnapshotRecord{
		ImageID:    imageID,
		FragmentID: fragmentID,
		ProjectID:  projectID,
		CreatedAt:  time.Now(),
	}

	if err := m.store.CreateSnapshot(ctx, record); err != nil {
		// Drop the provider image again so no snapshot exists without a
		// record; an unrecorded image would never be retained or pruned.
		if delErr := m.provider.DeleteSnapshot(ctx, imageID); delErr != nil {
			zap.L().Warn("Failed to delete unrecorded snapshot image",
				logger.WithSnapshotID(imageID),
				zap.Error(delErr),
			)
		}

		return "", fmt.Errorf("failed to record snapshot %s: %w", imageID, err)
	}

	zap.L().Info("Created sandbox snapshot",
		logger.WithProjectID(projectID),
		logger.WithSandboxID(sandboxID),
		logger.WithSnapshotID(imageID),
	)

	return imageID, nil
}

// Cleanup keeps the newest keepCount snapshots of the project and deletes
// the rest. Calling it again within the retention window is a no-op. A
// snapshot whose provider-side delete fails stays recorded so the next
// pass retries it.
func (m *Manager) Cleanup(ctx context.Context, projectID string, keepCount int) (CleanupResult, error) {
	if keepCount < 0 {
		return CleanupResult{}, fmt.Errorf("keep count must not be negative, got %d", keepCount)
	}

	records, err := m.store.ListSnapshots(ctx, projectID)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("failed to list snapshots for project %s: %w", projectID, err)
	}

	result := CleanupResult{
		Deleted: []string{},
		Kept:    []string{},
	}

	for i, record := range records {
		if i < keepCount {
			result.Kept = append(result.Kept, record.ImageID)

			continue
		}

		if m.deleteImage(ctx, record.ImageID) {
			result.Deleted = append(result.Deleted, record.ImageID)
		} else {
			result.Kept = append(result.Kept, record.ImageID)
		}
	}

	if len(result.Deleted) > 0 {
		zap.L().Info("Pruned project snapshots",
			logger.WithProjectID(projectID),
			zap.Int("deleted", len(result.Deleted)),
			zap.Int("kept", len(result.Kept)),
		)
	}

	return result, nil
}

// Delete removes a single snapshot by image ID. It reports whether the
// snapshot existed.
func (m *Manager) Delete(ctx context.Context, imageID string) (bool, error) {
	providerHadIt := true

	if err := m.provider.DeleteSnapshot(ctx, imageID); err != nil {
		var notFound *sandbox.SnapshotNotFoundError
		if !errors.As(err, &notFound) {
			return false, fmt.Errorf("failed to delete snapshot %s: %w", imageID, err)
		}

		providerHadIt = false
	}

	recorded, err := m.store.DeleteSnapshot(ctx, imageID)
	if err != nil {
		return false, fmt.Errorf("failed to delete snapshot record %s: %w", imageID, err)
	}

	return providerHadIt || recorded, nil
}

// deleteImage removes one snapshot from the provider and the store,
// reporting whether the record is gone.
func (m *Manager) deleteImage(ctx context.Context, imageID string) bool {
	if err := m.provider.DeleteSnapshot(ctx, imageID); err != nil {
		var notFound *sandbox.SnapshotNotFoundError
		if !errors.As(err, &notFound) {
			zap.L().Warn("Failed to delete snapshot image, keeping record for retry",
				logger.WithSnapshotID(imageID),
				zap.Error(err),
			)

			return false
		}
	}

	if _, err := m.store.DeleteSnapshot(ctx, imageID); err != nil {
		zap.L().Warn("Failed to delete snapshot record",
			logger.WithSnapshotID(imageID),
			zap.Error(err),
		)

		return false
	}

	return true
}
