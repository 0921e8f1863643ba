package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	limits "github.com/gin-contrib/size"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/appmint-dev/sandbox-orchestrator/internal/cfg"
	"github.com/appmint-dev/sandbox-orchestrator/internal/handlers"
	customMiddleware "github.com/appmint-dev/sandbox-orchestrator/internal/middleware"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/env"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/logger"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/telemetry"
)

const (
	serviceVersion = "1.0.0"
	serviceName    = "sandbox-orchestrator"
	maxUploadLimit = 1 << 24 // 16 MiB, batch file writes and fragment restores

	maxReadHeaderTimeout = 5 * time.Second
	maxReadTimeout       = 10 * time.Second
	maxWriteTimeout      = 75 * time.Second

	// Should be > 600s (GCP LB upstream idle timeout) so the load
	// balancer never reuses a connection the server already closed.
	idleTimeout = 620 * time.Second
)

var commitSHA string

func NewGinServer(ctx context.Context, config cfg.Config, tel *telemetry.Client, l *zap.Logger, apiStore *handlers.APIStore) *http.Server {
	r := gin.New()

	r.Use(
		customMiddleware.ExcludeRoutes(
			customMiddleware.TracingMiddleware(tel.TracerProvider, serviceName),
			"/health",
		),
		customMiddleware.ExcludeRoutes(
			customMiddleware.LoggingMiddleware(l, customMiddleware.Config{
				TimeFormat:   time.RFC3339Nano,
				UTC:          true,
				DefaultLevel: zap.InfoLevel,
			}),
			"/health",
		),
		customMiddleware.IncludeRoutes(
			customMiddleware.MetricsMiddleware(tel.MeterProvider, serviceName),
			"/sandbox",
			"/sandbox/:projectID",
			"/sandbox/:sandboxID",
			"/build/validate",
			"/deploy",
		),
		gin.Recovery(),
	)

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"User-Agent",
		"Authorization",
	}
	r.Use(cors.New(corsConfig))

	r.Use(limits.RequestSizeLimiter(maxUploadLimit))

	apiStore.RegisterRoutes(r)

	return &http.Server{
		Handler: r,
		Addr:    fmt.Sprintf("0.0.0.0:%d", config.Port),

		ReadHeaderTimeout: maxReadHeaderTimeout,
		ReadTimeout:       maxReadTimeout,
		WriteTimeout:      maxWriteTimeout,
		IdleTimeout:       idleTimeout,

		BaseContext: func(net.Listener) context.Context { return ctx },
	}
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Loads a .env file for local development. Existing environment
	// variables always win, so this is inert in production.
	_ = godotenv.Load()

	serviceInstanceID := uuid.New().String()

	var tel *telemetry.Client
	if env.IsLocal() {
		tel = telemetry.NewNoopClient()
	} else {
		var err error
		tel, err = telemetry.New(ctx, serviceName, commitSHA, serviceVersion, serviceInstanceID)
		if err != nil {
			zap.L().Fatal("failed to create telemetry client", zap.Error(err))
		}
	}
	defer func() {
		if err := tel.Shutdown(ctx); err != nil {
			log.Printf("telemetry shutdown: %v\n", err)
		}
	}()

	l := zap.Must(logger.NewLogger(ctx, logger.LoggerConfig{
		ServiceName:   serviceName,
		IsInternal:    true,
		IsDevelopment: env.IsLocal(),
		IsDebug:       env.IsDebug(),
		Cores:         []zapcore.Core{logger.GetOTELCore(tel.LogsProvider, serviceName)},
	}))
	defer l.Sync()
	zap.ReplaceGlobals(l)

	config, err := cfg.Parse()
	if err != nil {
		l.Fatal("Error parsing config", zap.Error(err))
	}

	l.Info("Starting sandbox orchestrator",
		zap.String("commit_sha", commitSHA),
		logger.WithServiceInstanceID(serviceInstanceID),
		zap.Int("port", config.Port),
		logger.WithProviderName(config.SandboxProvider),
	)

	if !env.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}

	var cleanupFns []func(context.Context) error
	exitCode := &atomic.Int32{}
	cleanupOp := func() {
		// Cleanup functions share one deadline so total shutdown time
		// stays bounded no matter how many there are.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		start := time.Now()

		// Run cleanups in parallel to avoid accidental ordering
		// dependencies between them.
		cwg := &sync.WaitGroup{}
		count := 0
		for idx := range cleanupFns {
			if cleanup := cleanupFns[idx]; cleanup != nil {
				cwg.Add(1)
				count++
				go func(op func(context.Context) error, idx int) {
					defer cwg.Done()

					if err := op(ctx); err != nil {
						exitCode.Add(1)
						l.Error("Cleanup operation error", zap.Int("index", idx), zap.Error(err))
					}
				}(cleanup, idx)

				cleanupFns[idx] = nil
			}
		}

		if count == 0 {
			l.Info("No cleanup operations")

			return
		}

		l.Info("Running cleanup operations", zap.Int("count", count))
		cwg.Wait()
		l.Info("Cleanup operations completed", zap.Int("count", count), zap.Duration("duration", time.Since(start)))
	}
	cleanupOnce := &sync.Once{}
	cleanup := func() { cleanupOnce.Do(cleanupOp) }
	defer cleanup()

	// Built on the root context rather than the signal context so
	// in-flight recoveries survive until the HTTP server has drained.
	apiStore := handlers.NewAPIStore(ctx, config, tel.MeterProvider)
	cleanupFns = append(cleanupFns, apiStore.Close)

	s := NewGinServer(ctx, config, tel, l, apiStore)

	signalCtx, sigCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer sigCancel()

	wg := &sync.WaitGroup{}

	// In the event of an unhandled panic still wait for the HTTP
	// server goroutines to return.
	defer wg.Wait()

	wg.Go(func() {
		// Cancel the parent context when the server stops so the
		// signal goroutine never blocks on a server that is gone.
		defer cancel()

		l.Info("Http service starting", zap.Int("port", config.Port))

		err := s.ListenAndServe()

		switch {
		case errors.Is(err, http.ErrServerClosed):
			l.Info("Http service shutdown successfully", zap.Int("port", config.Port))
		case err != nil:
			exitCode.Add(1)
			l.Error("Http service encountered error", zap.Int("port", config.Port), zap.Error(err))
		default:
			l.Info("Http service exited without error", zap.Int("port", config.Port))
		}
	})

	wg.Go(func() {
		<-signalCtx.Done()

		// Fail health checks first so the load balancer drains this
		// instance before the listener goes away.
		apiStore.Healthy.Store(false)

		if !env.IsLocal() {
			time.Sleep(15 * time.Second)
		}

		if err := s.Shutdown(ctx); err != nil {
			exitCode.Add(1)
			l.Error("Http service shutdown error", zap.Int("port", config.Port), zap.Error(err))
		}
	})

	wg.Wait()

	// Explicitly, because defers do not run on os.Exit.
	cleanup()

	return int(exitCode.Load())
}

func main() {
	os.Exit(run())
}
