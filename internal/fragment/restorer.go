// Package fragment restores code fragments into live sandboxes. Restoration
// is additive and idempotent: files are written on top of whatever the
// sandbox holds, nothing is deleted, and re-restoring the same fragment
// converges on the same tree.
package fragment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/appmint-dev/sandbox-orchestrator/internal/store"
	"github.com/appmint-dev/sandbox-orchestrator/internal/transfer"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/logger"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/telemetry"
)

const maxConcurrentWrites = 8

type Restorer struct {
	files *transfer.FileTransferLayer
}

func NewRestorer(files *transfer.FileTransferLayer) *Restorer {
	return &Restorer{files: files}
}

// RestoreFragment writes every file of the fragment into the sandbox.
func (r *Restorer) RestoreFragment(ctx context.Context, sandboxID string, fragment *store.Fragment) error {
	start := time.Now()

	if err := r.RestoreFiles(ctx, sandboxID, fragment.Files); err != nil {
		return fmt.Errorf("failed to restore fragment %s: %w", fragment.FragmentID, err)
	}

	zap.L().Info("Restored fragment",
		logger.WithSandboxID(sandboxID),
		zap.String("fragment_id", fragment.FragmentID),
		zap.Int("file_count", len(fragment.Files)),
		zap.Duration("duration", time.Since(start)),
	)

	return nil
}

// RestoreFiles writes the given files concurrently. Any failed write fails
// the whole restore; files already written stay in place, which is safe
// because restoration is additive.
func (r *Restorer) RestoreFiles(ctx context.Context, sandboxID string, files map[string]string) error {
	if len(files) == 0 {
		return nil
	}

	telemetry.ReportEvent(ctx, "restoring files into sandbox")

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentWrites)

	for path, content := range files {
		eg.Go(func() error {
			if err := r.files.WriteFile(ctx, sandboxID, path, content); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		telemetry.ReportError(ctx, "failed to restore files", err)

		return err
	}

	return nil
}
