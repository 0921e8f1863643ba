// Package recovery recreates broken sandboxes. Recovery is the only
// writer of registry state besides explicit create and delete calls, and
// it runs at most once per project at a time.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/appmint-dev/sandbox-orchestrator/internal/assets"
	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/fragment"
	"github.com/appmint-dev/sandbox-orchestrator/internal/preview"
	"github.com/appmint-dev/sandbox-orchestrator/internal/provider"
	"github.com/appmint-dev/sandbox-orchestrator/internal/registry"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/internal/store"
	"github.com/appmint-dev/sandbox-orchestrator/internal/transfer"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/cache"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/logger"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/telemetry"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/utils"
)

const (
	devServerStartCommand = "nohup npm run dev > /tmp/dev-server.log 2>&1 &"

	dependencyInstallCommand = "npm install"
	dependencyInstallTimeout = 5 * time.Minute

	// recoveryLockTTL must outlive the slowest recovery: import creation
	// plus dependency install plus restore and the preview wait.
	recoveryLockTTL = 15 * time.Minute

	// Fragments are immutable once written, caching them only trades
	// memory for store round trips.
	fragmentCacheTTL = 5 * time.Minute
)

// Ticket records an in-flight recovery, keyed by project.
type Ticket struct {
	ProjectID string    `json:"projectID"`
	StartedAt time.Time `json:"startedAt"`
}

// Result is the shared outcome all concurrent callers of EnsureRecovered
// observe.
type Result struct {
	Recovered bool   `json:"recovered"`
	SandboxID string `json:"sandboxID"`
}

// CreateParams describes what to provision a sandbox from.
type CreateParams struct {
	ProjectID    string
	FragmentID   string
	TemplateName string
	IsImported   bool
	ImportedFrom string
}

// Orchestrator provisions sandboxes and swaps registry handles. All
// paths that write a handle for a project hold that project's ticket.
type Orchestrator struct {
	registry registry.SandboxRegistry
	provider provider.Provider
	store    store.Store
	restorer *fragment.Restorer
	executor *transfer.CommandExecutor
	preview  *preview.HealthChecker
	assets   *assets.Syncer

	flight    singleflight.Group
	tickets   cmap.ConcurrentMap[string, Ticket]
	locker    *redislock.Client
	fragments *cache.Cache[string, *store.Fragment]

	config cfg.Config
}

func NewOrchestrator(
	reg registry.SandboxRegistry,
	p provider.Provider,
	st store.Store,
	restorer *fragment.Restorer,
	executor *transfer.CommandExecutor,
	previewChecker *preview.HealthChecker,
	assetSyncer *assets.Syncer,
	redisClient redis.UniversalClient,
	config cfg.Config,
) *Orchestrator {
	o := &Orchestrator{
		registry:  reg,
		provider:  p,
		store:     st,
		restorer:  restorer,
		executor:  executor,
		preview:   previewChecker,
		assets:    assetSyncer,
		tickets:   cmap.New[Ticket](),
		fragments: cache.NewCache[string, *store.Fragment](cache.Config{TTL: fragmentCacheTTL}),
		config:    config,
	}

	if redisClient != nil {
		o.locker = redislock.New(redisClient)
	}

	return o
}

// EnsureRecovered replaces a project's sandbox with a freshly provisioned
// one. Concurrent callers for the same project share a single recovery;
// none of them can cancel it. Any failure leaves the registry entry
// absent and is reported as a retry-shortly signal, the next request
// triggers a new attempt.
func (o *Orchestrator) EnsureRecovered(ctx context.Context, projectID string) (Result, error) {
	value, err, _ := o.flight.Do(projectID, func() (any, error) {
		return o.recover(ctx, projectID)
	})
	if err != nil {
		return Result{}, err
	}

	return value.(Result), nil
}

// CreateSandbox provisions a sandbox for a project on explicit request.
// An existing sandbox for the project is replaced, never duplicated.
func (o *Orchestrator) CreateSandbox(ctx context.Context, params CreateParams) (*sandbox.Handle, error) {
	release, err := o.acquireTicket(ctx, params.ProjectID)
	if err != nil {
		return nil, err
	}
	defer release()

	oldHandle, err := o.registry.GetHandle(ctx, params.ProjectID)
	if err != nil && !errors.Is(err, registry.ErrHandleNotFound) {
		return nil, err
	}

	if oldHandle != nil {
		o.discardHandle(ctx, params.ProjectID, oldHandle)
	}

	return o.provision(ctx, params)
}

// DeleteSandbox tears down a sandbox and clears its registry binding.
// Deleting a sandbox the provider no longer knows succeeds.
func (o *Orchestrator) DeleteSandbox(ctx context.Context, sandboxID string) error {
	handles, err := o.registry.ListHandles(ctx)
	if err != nil {
		return err
	}

	for _, handle := range handles {
		if handle.SandboxID != sandboxID {
			continue
		}

		// Clear the binding first so nobody resolves a dying sandbox.
		if err := o.registry.ClearHandle(ctx, handle.ProjectID); err != nil {
			return fmt.Errorf("failed to clear sandbox handle: %w", err)
		}

		break
	}

	var notFound *sandbox.NotFoundError
	if err := o.provider.Delete(ctx, sandboxID); err != nil && !errors.As(err, &notFound) {
		return err
	}

	return nil
}

// InFlight reports whether a recovery or create currently holds the
// project's ticket.
func (o *Orchestrator) InFlight(projectID string) bool {
	return o.tickets.Has(projectID)
}

// Tickets returns all in-flight tickets.
func (o *Orchestrator) Tickets() []Ticket {
	tickets := make([]Ticket, 0, o.tickets.Count())
	for _, ticket := range o.tickets.Items() {
		tickets = append(tickets, ticket)
	}

	return tickets
}

func (o *Orchestrator) recover(ctx context.Context, projectID string) (Result, error) {
	release, err := o.acquireTicket(ctx, projectID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	start := time.Now()
	telemetry.ReportEvent(ctx, "recovering project sandbox", attribute.String("project.id", projectID))

	params := CreateParams{ProjectID: projectID}

	oldHandle, err := o.registry.GetHandle(ctx, projectID)
	if err != nil && !errors.Is(err, registry.ErrHandleNotFound) {
		return Result{}, o.recoveryFailed(ctx, projectID, err)
	}

	if oldHandle != nil {
		params.TemplateName = oldHandle.TemplateName
		params.ImportedFrom = oldHandle.ImportedFrom
		params.IsImported = oldHandle.ImportedFrom != ""

		o.discardHandle(ctx, projectID, oldHandle)
	}

	handle, err := o.provision(ctx, params)
	if err != nil {
		return Result{}, o.recoveryFailed(ctx, projectID, err)
	}

	zap.L().Info("Recovered project sandbox",
		logger.WithProjectID(projectID),
		logger.WithSandboxID(handle.SandboxID),
		zap.Duration("duration", time.Since(start)),
	)

	return Result{Recovered: true, SandboxID: handle.SandboxID}, nil
}

// recoveryFailed converts any recovery failure into the retry-shortly
// signal the HTTP layer maps to a 503. The underlying cause is logged,
// not propagated; the next request retries instead of an internal loop.
func (o *Orchestrator) recoveryFailed(ctx context.Context, projectID string, err error) error {
	telemetry.ReportError(ctx, "sandbox recovery failed", err, attribute.String("project.id", projectID))
	zap.L().Error("Sandbox recovery failed",
		logger.WithProjectID(projectID),
		zap.Error(err),
	)

	return &sandbox.RecoveryInProgressError{ProjectID: projectID}
}

// acquireTicket claims the per-project recovery ticket and, when redis is
// configured, the cross-replica lock. The returned release func must be
// called exactly once.
func (o *Orchestrator) acquireTicket(ctx context.Context, projectID string) (func(), error) {
	if !o.tickets.SetIfAbsent(projectID, Ticket{ProjectID: projectID, StartedAt: time.Now()}) {
		return nil, &sandbox.RecoveryInProgressError{ProjectID: projectID}
	}

	release := func() {
		o.tickets.Remove(projectID)
	}

	if o.locker == nil {
		return release, nil
	}

	// No retry strategy: when another replica holds the lock the caller
	// gets the retry-shortly signal instead of waiting for it.
	lock, err := o.locker.Obtain(ctx, recoveryLockKey(projectID), recoveryLockTTL, nil)
	if err != nil {
		release()

		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, &sandbox.RecoveryInProgressError{ProjectID: projectID}
		}

		return nil, fmt.Errorf("failed to obtain recovery lock: %w", err)
	}

	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			zap.L().Error("Failed to release recovery lock",
				logger.WithProjectID(projectID),
				zap.Error(err),
			)
		}

		o.tickets.Remove(projectID)
	}, nil
}

// discardHandle clears the project's registry binding and tears down the
// old sandbox best effort. A sandbox the provider cannot delete is
// abandoned to the provider's own expiry.
func (o *Orchestrator) discardHandle(ctx context.Context, projectID string, handle *sandbox.Handle) {
	if err := o.registry.ClearHandle(ctx, projectID); err != nil {
		zap.L().Warn("Failed to clear sandbox handle",
			logger.WithProjectID(projectID),
			zap.Error(err),
		)
	}

	var notFound *sandbox.NotFoundError
	if err := o.provider.Delete(ctx, handle.SandboxID); err != nil && !errors.As(err, &notFound) {
		zap.L().Warn("Failed to delete broken sandbox",
			logger.WithProjectID(projectID),
			logger.WithSandboxID(handle.SandboxID),
			zap.Error(err),
		)
	}
}

// provision creates a sandbox, restores the project's code into it,
// brings the dev server up and publishes the handle. The handle only
// becomes observable after restoration has completed; a failure at any
// step tears the new sandbox down.
func (o *Orchestrator) provision(ctx context.Context, params CreateParams) (*sandbox.Handle, error) {
	start := time.Now()

	// Resolve the fragment up front so a bad fragment reference fails
	// before any sandbox is provisioned.
	frag, err := o.resolveFragment(ctx, params)
	if err != nil {
		return nil, err
	}

	createTimeout := o.config.CreateTimeout
	if params.IsImported {
		createTimeout = o.config.ImportCreateTimeout
	}

	createCtx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	instance, err := o.provider.Create(createCtx, provider.CreateOptions{
		ProjectID:    params.ProjectID,
		TemplateName: params.TemplateName,
		Labels:       map[string]string{"project_id": params.ProjectID},
		TTL:          o.config.SandboxTTL,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &sandbox.TimeoutError{Op: "sandbox creation", Limit: createTimeout}
		}

		return nil, fmt.Errorf("failed to create sandbox for project %s: %w", params.ProjectID, err)
	}

	telemetry.ReportEvent(ctx, "created sandbox",
		attribute.String("project.id", params.ProjectID),
		attribute.String("sandbox.id", instance.SandboxID),
	)

	handle, err := o.initializeSandbox(ctx, instance, params, frag)
	if err != nil {
		o.teardownFailed(ctx, params.ProjectID, instance.SandboxID)

		return nil, err
	}

	zap.L().Info("Provisioned sandbox",
		logger.WithProjectID(params.ProjectID),
		logger.WithSandboxID(instance.SandboxID),
		zap.Bool("imported", params.IsImported),
		zap.Duration("duration", time.Since(start)),
	)

	return handle, nil
}

// initializeSandbox runs every post-create step against a fresh sandbox
// and publishes the handle last.
func (o *Orchestrator) initializeSandbox(ctx context.Context, instance *provider.Instance, params CreateParams, frag *store.Fragment) (*sandbox.Handle, error) {
	fragmentID := ""
	if frag != nil {
		if err := o.restorer.RestoreFragment(ctx, instance.SandboxID, frag); err != nil {
			return nil, err
		}

		fragmentID = frag.FragmentID
	}

	// Imported projects carry their own package.json, so dependencies
	// are installed after the restore has put it in place.
	if params.IsImported {
		if err := o.installDependencies(ctx, instance.SandboxID); err != nil {
			return nil, err
		}
	}

	if err := o.startDevServer(ctx, instance.SandboxID); err != nil {
		return nil, err
	}

	now := time.Now()
	handle := &sandbox.Handle{
		SandboxID:    instance.SandboxID,
		ProjectID:    params.ProjectID,
		PreviewURL:   instance.PreviewURL,
		InternalURL:  instance.InternalURL,
		ProviderKind: o.provider.Kind(),
		TemplateName: params.TemplateName,
		ImportedFrom: params.ImportedFrom,
		FragmentID:   fragmentID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(o.config.SandboxTTL),
	}

	if err := o.preview.EnsureHealthy(ctx, handle, ""); err != nil {
		return nil, err
	}

	if o.assets != nil {
		o.assets.SyncAsync(ctx, instance.SandboxID, params.ProjectID)
	}

	if err := o.registry.SetHandle(ctx, params.ProjectID, handle); err != nil {
		return nil, fmt.Errorf("failed to publish sandbox handle: %w", err)
	}

	telemetry.ReportEvent(ctx, "published sandbox handle",
		attribute.String("project.id", params.ProjectID),
		attribute.String("sandbox.id", instance.SandboxID),
	)

	return handle, nil
}

func (o *Orchestrator) resolveFragment(ctx context.Context, params CreateParams) (*store.Fragment, error) {
	if params.FragmentID != "" {
		frag, err := o.fragments.GetOrSet(ctx, params.FragmentID, o.store.GetFragment)
		if err != nil {
			return nil, fmt.Errorf("failed to load fragment %s: %w", params.FragmentID, err)
		}

		return frag, nil
	}

	frag, err := o.store.LatestFragment(ctx, params.ProjectID)
	if errors.Is(err, store.ErrFragmentNotFound) {
		// Fresh project: the template's own files stand.
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load latest fragment for project %s: %w", params.ProjectID, err)
	}

	return frag, nil
}

func (o *Orchestrator) installDependencies(ctx context.Context, sandboxID string) error {
	telemetry.ReportEvent(ctx, "installing dependencies", attribute.String("sandbox.id", sandboxID))

	result, err := o.executor.Execute(ctx, sandboxID, dependencyInstallCommand, transfer.WithTimeout(dependencyInstallTimeout))
	if err != nil {
		return fmt.Errorf("failed to install dependencies: %w", err)
	}

	if result.ExitCode != 0 {
		return fmt.Errorf("dependency install exited with code %d: %s", result.ExitCode, utils.Truncate(result.Stderr, 500))
	}

	return nil
}

func (o *Orchestrator) startDevServer(ctx context.Context, sandboxID string) error {
	result, err := o.executor.Execute(ctx, sandboxID, devServerStartCommand)
	if err != nil {
		return fmt.Errorf("failed to start dev server: %w", err)
	}

	if result.ExitCode != 0 {
		return fmt.Errorf("dev server start exited with code %d: %s", result.ExitCode, utils.Truncate(result.Stderr, 500))
	}

	telemetry.ReportEvent(ctx, "dev server started", attribute.String("sandbox.id", sandboxID))

	return nil
}

// teardownFailed removes a sandbox that failed initialization so a half
// provisioned sandbox never outlives the attempt that created it.
func (o *Orchestrator) teardownFailed(ctx context.Context, projectID string, sandboxID string) {
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	var notFound *sandbox.NotFoundError
	if err := o.provider.Delete(deleteCtx, sandboxID); err != nil && !errors.As(err, &notFound) {
		zap.L().Warn("Failed to tear down sandbox after failed initialization",
			logger.WithProjectID(projectID),
			logger.WithSandboxID(sandboxID),
			zap.Error(err),
		)
	}
}

func recoveryLockKey(projectID string) string {
	return fmt.Sprintf("recovery:%s", projectID)
}
