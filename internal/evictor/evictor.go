// Package evictor reclaims sandboxes whose handle has expired. Providers
// reap expired sandboxes on their own schedule; the evictor makes the
// registry converge instead of waiting for a health probe to notice.
package evictor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/provider"
	"github.com/appmint-dev/sandbox-orchestrator/internal/registry"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/logger"
)

// evictionGrace keeps just-expired handles around so status checks report a
// stale sandbox before the binding disappears. Must stay shorter than the
// registry's retention of expired entries.
const evictionGrace = 10 * time.Minute

const evictDeleteTimeout = 30 * time.Second

type Evictor struct {
	registry registry.SandboxRegistry
	provider provider.Provider
	interval time.Duration
}

func New(reg registry.SandboxRegistry, p provider.Provider, config cfg.Config) *Evictor {
	return &Evictor{
		registry: reg,
		provider: p,
		interval: config.AutoDeleteInterval,
	}
}

// Start sweeps until ctx is cancelled.
func (e *Evictor) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.interval):
			e.sweep(ctx)
		}
	}
}

func (e *Evictor) sweep(ctx context.Context) {
	handles, err := e.registry.ListHandles(ctx)
	if err != nil {
		zap.L().Error("Evictor failed to list sandbox handles", zap.Error(err))

		return
	}

	cutoff := time.Now().Add(-evictionGrace)
	for _, handle := range handles {
		if !handle.Expired(cutoff) {
			continue
		}

		e.evict(ctx, handle)
	}
}

// evict removes the sandbox first and only then drops the registry entry, so
// a failed provider delete is retried on the next sweep.
func (e *Evictor) evict(ctx context.Context, handle *sandbox.Handle) {
	zap.L().Debug("Evicting expired sandbox",
		logger.WithProjectID(handle.ProjectID),
		logger.WithSandboxID(handle.SandboxID),
		zap.Time("expired_at", handle.ExpiresAt),
	)

	deleteCtx, cancel := context.WithTimeout(ctx, evictDeleteTimeout)
	defer cancel()

	if err := e.provider.Delete(deleteCtx, handle.SandboxID); err != nil {
		var notFound *sandbox.NotFoundError
		if !errors.As(err, &notFound) {
			zap.L().Error("Error evicting sandbox", zap.Error(err), logger.WithSandboxID(handle.SandboxID))

			return
		}
	}

	if err := e.registry.ClearHandle(ctx, handle.ProjectID); err != nil {
		zap.L().Error("Error clearing evicted sandbox handle", zap.Error(err), logger.WithProjectID(handle.ProjectID))

		return
	}

	zap.L().Info("Evicted expired sandbox",
		logger.WithProjectID(handle.ProjectID),
		logger.WithSandboxID(handle.SandboxID),
	)
}
