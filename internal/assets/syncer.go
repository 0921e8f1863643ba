// Package assets copies a project's static asset archive from the
// artifact store into its sandbox. Assets are uploaded out of band by
// the app builder; the sandbox only ever consumes them.
package assets

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/appmint-dev/sandbox-orchestrator/internal/artifacts"
	"github.com/appmint-dev/sandbox-orchestrator/internal/transfer"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/logger"
)

const (
	// assetTargetDir is where the dev server expects static assets,
	// relative to the sandbox working directory.
	assetTargetDir = "public/assets"

	syncTimeout = 2 * time.Minute
)

// Task is a handle to an asset sync running in the background. Callers
// may await the outcome or drop the handle; the sync completes either way.
type Task struct {
	ProjectID string

	done chan struct{}
	err  error
}

// Wait blocks until the sync finishes and returns its outcome.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the sync has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Syncer pulls asset bundles out of the artifact store and writes them
// into sandboxes.
type Syncer struct {
	store artifacts.Store
	files *transfer.FileTransferLayer
}

func NewSyncer(store artifacts.Store, files *transfer.FileTransferLayer) *Syncer {
	return &Syncer{
		store: store,
		files: files,
	}
}

// Sync writes the project's asset bundle into the sandbox. A project
// without an asset bundle is not an error; there is simply nothing to
// sync.
func (s *Syncer) Sync(ctx context.Context, sandboxID string, projectID string) error {
	data, err := s.store.Get(ctx, artifacts.AssetBundleKey(projectID))
	if errors.Is(err, artifacts.ErrObjectNotExist) {
		zap.L().Debug("Project has no asset bundle, skipping sync", logger.WithProjectID(projectID))

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to fetch asset bundle for project %s: %w", projectID, err)
	}

	bundle, err := artifacts.UnpackBundle(data)
	if err != nil {
		return fmt.Errorf("failed to unpack asset bundle for project %s: %w", projectID, err)
	}

	for name, content := range bundle {
		target := path.Join(assetTargetDir, name)
		if err := s.files.WriteFileBinary(ctx, sandboxID, target, content); err != nil {
			return fmt.Errorf("failed to write asset %s: %w", target, err)
		}
	}

	zap.L().Info("Synced project assets into sandbox",
		logger.WithProjectID(projectID),
		logger.WithSandboxID(sandboxID),
		zap.Int("asset_count", len(bundle)),
	)

	return nil
}

// SyncAsync runs Sync in the background, detached from the caller's
// request lifetime. Failures are logged as well as reported through the
// returned task.
func (s *Syncer) SyncAsync(ctx context.Context, sandboxID string, projectID string) *Task {
	task := &Task{
		ProjectID: projectID,
		done:      make(chan struct{}),
	}

	syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncTimeout)

	go func() {
		defer close(task.done)
		defer cancel()

		if err := s.Sync(syncCtx, sandboxID, projectID); err != nil {
			task.err = err

			zap.L().Warn("Background asset sync failed",
				logger.WithProjectID(projectID),
				logger.WithSandboxID(sandboxID),
				zap.Error(err),
			)
		}
	}()

	return task
}
