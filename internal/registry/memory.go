package registry

import (
	"context"
	"sync"

	"github.com/jellydator/ttlcache/v3"

	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
)

type Memory struct {
	cache *ttlcache.Cache[string, *sandbox.Handle]
	mtx   sync.RWMutex
}

var _ SandboxRegistry = (*Memory)(nil)

func NewMemory() *Memory {
	cache := ttlcache.New(ttlcache.WithDisableTouchOnHit[string, *sandbox.Handle]())
	go cache.Start()

	return &Memory{
		cache: cache,
	}
}

func (m *Memory) GetHandle(ctx context.Context, projectID string) (*sandbox.Handle, error) {
	_, span := tracer.Start(ctx, "sandbox-registry-get")
	defer span.End()

	m.mtx.RLock()
	defer m.mtx.RUnlock()

	item := m.cache.Get(projectID)
	if item != nil {
		return item.Value(), nil
	}

	return nil, ErrHandleNotFound
}

func (m *Memory) SetHandle(ctx context.Context, projectID string, handle *sandbox.Handle) error {
	_, span := tracer.Start(ctx, "sandbox-registry-set")
	defer span.End()

	m.mtx.Lock()
	defer m.mtx.Unlock()

	ttl := entryTTL(handle)
	if ttl == 0 {
		ttl = ttlcache.NoTTL
	}

	m.cache.Set(projectID, handle, ttl)

	return nil
}

func (m *Memory) ClearHandle(ctx context.Context, projectID string) error {
	_, span := tracer.Start(ctx, "sandbox-registry-clear")
	defer span.End()

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.cache.Delete(projectID)

	return nil
}

func (m *Memory) ListHandles(ctx context.Context) ([]*sandbox.Handle, error) {
	_, span := tracer.Start(ctx, "sandbox-registry-list")
	defer span.End()

	m.mtx.RLock()
	defer m.mtx.RUnlock()

	items := m.cache.Items()

	handles := make([]*sandbox.Handle, 0, len(items))
	for _, item := range items {
		handles = append(handles, item.Value())
	}

	return handles, nil
}

func (m *Memory) Close(_ context.Context) error {
	m.cache.Stop()

	return nil
}
