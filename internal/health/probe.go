// Package health classifies the state of a project's sandbox without
// changing it. A probe is read-only; callers decide whether a broken
// verdict warrants recovery.
package health

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/provider"
	"github.com/appmint-dev/sandbox-orchestrator/internal/registry"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/internal/transfer"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/logger"
)

// reachabilityTimeout bounds the provider probe so a hung provider API
// reads as unreachable instead of stalling the status endpoint.
const reachabilityTimeout = 5 * time.Second

// Probe checks a project's sandbox and reports a verdict.
type Probe struct {
	registry registry.SandboxRegistry
	provider provider.Provider
	files    *transfer.FileTransferLayer

	markerFiles []string
}

func NewProbe(reg registry.SandboxRegistry, p provider.Provider, files *transfer.FileTransferLayer, config cfg.Config) *Probe {
	return &Probe{
		registry:    reg,
		provider:    p,
		files:       files,
		markerFiles: config.MarkerFiles,
	}
}

// Check reports the health of the sandbox bound to projectID. When no
// handle is bound it returns registry.ErrHandleNotFound so callers can
// distinguish "never created" from "created but broken". Checks run in
// order of increasing cost: handle expiry, provider reachability, then
// marker files inside the sandbox. The first failing check decides the
// verdict.
func (h *Probe) Check(ctx context.Context, projectID string) (sandbox.HealthVerdict, *sandbox.Handle, error) {
	handle, err := h.registry.GetHandle(ctx, projectID)
	if err != nil {
		return sandbox.HealthVerdict{}, nil, err
	}

	if handle.Expired(time.Now()) {
		zap.L().Info("Sandbox handle expired",
			logger.WithProjectID(projectID),
			logger.WithSandboxID(handle.SandboxID),
			zap.Time("expires_at", handle.ExpiresAt),
		)

		return sandbox.BrokenVerdict(sandbox.ReasonStale), handle, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, reachabilityTimeout)
	defer cancel()

	if err := h.provider.Probe(probeCtx, handle.SandboxID); err != nil {
		zap.L().Info("Sandbox is unreachable",
			logger.WithProjectID(projectID),
			logger.WithSandboxID(handle.SandboxID),
			zap.Error(err),
		)

		return sandbox.BrokenVerdict(sandbox.ReasonUnreachable), handle, nil
	}

	missing, err := h.missingMarkerFiles(ctx, handle.SandboxID)
	if err != nil {
		// The sandbox answered the reachability probe but file reads
		// fail, so treat it the same as not answering at all.
		zap.L().Warn("Failed to inspect sandbox files",
			logger.WithProjectID(projectID),
			logger.WithSandboxID(handle.SandboxID),
			zap.Error(err),
		)

		return sandbox.BrokenVerdict(sandbox.ReasonUnreachable), handle, nil
	}

	if len(missing) > 0 {
		zap.L().Info("Sandbox is missing marker files",
			logger.WithProjectID(projectID),
			logger.WithSandboxID(handle.SandboxID),
			zap.Strings("missing_files", missing),
		)

		return sandbox.BrokenVerdict(sandbox.ReasonMissingFiles, missing...), handle, nil
	}

	return sandbox.HealthyVerdict(), handle, nil
}

func (h *Probe) missingMarkerFiles(ctx context.Context, sandboxID string) ([]string, error) {
	var missing []string

	for _, marker := range h.markerFiles {
		exists, err := h.files.FileExists(ctx, sandboxID, marker)
		if err != nil {
			return nil, err
		}

		if !exists {
			missing = append(missing, marker)
		}
	}

	return missing, nil
}

// IsAbsent reports whether err means no handle is bound for the project.
func IsAbsent(err error) bool {
	return errors.Is(err, registry.ErrHandleNotFound)
}
