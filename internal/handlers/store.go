package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/appmint-dev/sandbox-orchestrator/internal/api"
	"github.com/appmint-dev/sandbox-orchestrator/internal/artifacts"
	"github.com/appmint-dev/sandbox-orchestrator/internal/assets"
	"github.com/appmint-dev/sandbox-orchestrator/internal/buildcheck"
	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/deploy"
	"github.com/appmint-dev/sandbox-orchestrator/internal/evictor"
	"github.com/appmint-dev/sandbox-orchestrator/internal/fragment"
	"github.com/appmint-dev/sandbox-orchestrator/internal/health"
	"github.com/appmint-dev/sandbox-orchestrator/internal/metrics"
	"github.com/appmint-dev/sandbox-orchestrator/internal/preview"
	"github.com/appmint-dev/sandbox-orchestrator/internal/provider"
	"github.com/appmint-dev/sandbox-orchestrator/internal/recovery"
	"github.com/appmint-dev/sandbox-orchestrator/internal/registry"
	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/internal/snapshot"
	"github.com/appmint-dev/sandbox-orchestrator/internal/store"
	"github.com/appmint-dev/sandbox-orchestrator/internal/transfer"
)

type APIStore struct {
	Healthy atomic.Bool

	config cfg.Config

	provider  provider.Provider
	registry  registry.SandboxRegistry
	store     store.Store
	artifacts artifacts.Store
	redis     redis.UniversalClient

	executor *transfer.CommandExecutor
	files    *transfer.FileTransferLayer
	restorer *fragment.Restorer

	probe        *health.Probe
	orchestrator *recovery.Orchestrator
	snapshots    *snapshot.Manager
	gate         *buildcheck.Gate
	pipeline     *deploy.Pipeline

	// metrics is nil in tests that build the store by hand.
	metrics *metrics.Observer
}

func NewAPIStore(ctx context.Context, config cfg.Config, meterProvider otelmetric.MeterProvider) *APIStore {
	zap.L().Info("Initializing API store and services")

	p, err := provider.New(config)
	if err != nil {
		zap.L().Fatal("Initializing sandbox provider", zap.Error(err))
	}

	var redisClient redis.UniversalClient
	if config.RedisClusterURL != "" {
		redisClient = redis.NewClusterClient(&redis.ClusterOptions{
			// Cloud clusters (GCP Memorystore) expose a single discovery
			// endpoint that resolves to the cluster nodes.
			Addrs:        []string{config.RedisClusterURL},
			MinIdleConns: 1,
		})
	} else if config.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         config.RedisURL,
			MinIdleConns: 1,
		})
	} else {
		zap.L().Warn("REDIS_URL not set, sandbox bindings are process-local")
	}

	if redisClient != nil {
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			zap.L().Fatal("Could not connect to Redis", zap.Error(err))
		}

		zap.L().Info("Connected to Redis")
	}

	reg := registry.New(redisClient)

	observer, err := metrics.NewObserver(meterProvider, reg)
	if err != nil {
		zap.L().Fatal("Initializing metrics observer", zap.Error(err))
	}

	projectStore, err := store.New(ctx, config)
	if err != nil {
		zap.L().Fatal("Initializing project store", zap.Error(err))
	}

	artifactStore, err := artifacts.New(ctx, config)
	if err != nil {
		zap.L().Fatal("Initializing artifact store", zap.Error(err))
	}

	zap.L().Info("Using artifact store", zap.String("backend", artifactStore.String()))

	executor := transfer.NewCommandExecutor(p, config)
	files := transfer.NewFileTransferLayer(p, config)
	restorer := fragment.NewRestorer(files)
	assetSyncer := assets.NewSyncer(artifactStore, files)
	previewChecker := preview.NewHealthChecker(config)

	a := &APIStore{
		config:    config,
		provider:  p,
		registry:  reg,
		store:     projectStore,
		artifacts: artifactStore,
		redis:     redisClient,
		executor:  executor,
		files:     files,
		restorer:  restorer,
		probe:     health.NewProbe(reg, p, files, config),
		orchestrator: recovery.NewOrchestrator(
			reg, p, projectStore, restorer, executor, previewChecker, assetSyncer, redisClient, config),
		snapshots: snapshot.NewManager(p, projectStore),
		gate:      buildcheck.NewGate(p, executor, projectStore, config),
		pipeline:  deploy.NewPipeline(reg, executor, files, artifactStore, config),
		metrics:   observer,
	}

	go evictor.New(reg, p, config).Start(ctx)

	a.Healthy.Store(true)

	return a
}

func (a *APIStore) Close(ctx context.Context) error {
	errs := []error{}

	if err := a.registry.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing sandbox registry: %w", err))
	}

	a.store.Close()

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis client: %w", err))
		}
	}

	return errors.Join(errs...)
}

// sendAPIStoreError sends an error response in the envelope format and
// records the error on the gin context for the logging middleware.
func (a *APIStore) sendAPIStoreError(c *gin.Context, code int, message string) {
	c.Error(errors.New(message))
	c.JSON(code, api.Response{Success: false, Error: message})
}

func (a *APIStore) sendSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, api.Response{Success: true, Data: data})
}

// sendError maps a domain error onto the HTTP status taxonomy and sends it.
func (a *APIStore) sendError(c *gin.Context, err error) {
	apiErr := apiError(err)
	a.sendAPIStoreError(c, apiErr.Code, apiErr.ClientMsg)
}

// apiError classifies domain errors. Transient recovery contention is 503 so
// clients retry shortly, provider outages are 502, provider timeouts 504
// and anything unclassified stays 500 with the raw message preserved.
func apiError(err error) *api.APIError {
	var recovering *sandbox.RecoveryInProgressError
	var unavailable *sandbox.ProviderUnavailableError
	var timeout *sandbox.TimeoutError
	var sbxNotFound *sandbox.NotFoundError
	var snapNotFound *sandbox.SnapshotNotFoundError
	var fileNotFound *sandbox.FileNotFoundError

	switch {
	case errors.As(err, &recovering):
		return &api.APIError{Err: err, ClientMsg: recovering.Error(), Code: http.StatusServiceUnavailable}
	case errors.As(err, &unavailable):
		return &api.APIError{Err: err, ClientMsg: err.Error(), Code: http.StatusBadGateway}
	case errors.As(err, &timeout):
		return &api.APIError{Err: err, ClientMsg: err.Error(), Code: http.StatusGatewayTimeout}
	case errors.As(err, &sbxNotFound):
		return &api.APIError{Err: err, ClientMsg: "Sandbox not found", Code: http.StatusNotFound}
	case errors.As(err, &snapNotFound):
		return &api.APIError{Err: err, ClientMsg: "Snapshot not found", Code: http.StatusNotFound}
	case errors.As(err, &fileNotFound):
		return &api.APIError{Err: err, ClientMsg: err.Error(), Code: http.StatusNotFound}
	case errors.Is(err, registry.ErrHandleNotFound):
		return &api.APIError{Err: err, ClientMsg: "Sandbox not found", Code: http.StatusNotFound}
	case errors.Is(err, store.ErrFragmentNotFound):
		return &api.APIError{Err: err, ClientMsg: "Fragment not found", Code: http.StatusNotFound}
	default:
		return &api.APIError{Err: err, ClientMsg: err.Error(), Code: http.StatusInternalServerError}
	}
}

func (a *APIStore) GetHealth(c *gin.Context) {
	if a.Healthy.Load() {
		c.String(http.StatusOK, "Health check successful")

		return
	}

	c.String(http.StatusServiceUnavailable, "Service is unavailable")
}

func (a *APIStore) getSandboxID(ctx context.Context, projectID string, sandboxID string) (string, error) {
	if sandboxID != "" {
		return sandboxID, nil
	}

	handle, err := a.registry.GetHandle(ctx, projectID)
	if err != nil {
		return "", err
	}

	return handle.SandboxID, nil
}
