// Package registry tracks the binding between a project and its live
// sandbox. There is at most one handle per project; recovery swaps the whole
// entry, it never mutates a published handle.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
)

var ErrHandleNotFound = errors.New("sandbox handle not found")

// Entries outlive handle expiry by this much so health probes can report a
// stale sandbox instead of a missing one; the evictor cleans them up first.
const expiredHandleRetention = time.Hour

type SandboxRegistry interface {
	GetHandle(ctx context.Context, projectID string) (*sandbox.Handle, error)
	SetHandle(ctx context.Context, projectID string, handle *sandbox.Handle) error
	ClearHandle(ctx context.Context, projectID string) error
	ListHandles(ctx context.Context) ([]*sandbox.Handle, error)
	Close(ctx context.Context) error
}

var tracer = otel.Tracer("github.com/appmint-dev/sandbox-orchestrator/internal/registry")

// New picks the redis registry when a client is configured and the in-memory
// registry otherwise.
func New(redisClient redis.UniversalClient) SandboxRegistry {
	if redisClient != nil {
		return NewRedis(redisClient)
	}

	return NewMemory()
}

func entryTTL(handle *sandbox.Handle) time.Duration {
	if handle.ExpiresAt.IsZero() {
		return 0
	}

	ttl := time.Until(handle.ExpiresAt) + expiredHandleRetention
	if ttl < expiredHandleRetention {
		return expiredHandleRetention
	}

	return ttl
}
