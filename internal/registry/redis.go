package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
	"github.com/appmint-dev/sandbox-orchestrator/pkg/logger"
)

const (
	registryRedisTimeout = time.Second * 1

	// Handles are cached locally only briefly: another replica may swap the
	// binding at any time and we must observe it promptly.
	registryLocalCacheTTL = time.Millisecond * 500
)

type Redis struct {
	redisClient redis.UniversalClient
	cache       *ttlcache.Cache[string, *sandbox.Handle]
}

var _ SandboxRegistry = (*Redis)(nil)

func NewRedis(redisClient redis.UniversalClient) *Redis {
	cache := ttlcache.New(ttlcache.WithTTL[string, *sandbox.Handle](registryLocalCacheTTL), ttlcache.WithDisableTouchOnHit[string, *sandbox.Handle]())
	go cache.Start()

	return &Redis{
		redisClient: redisClient,
		cache:       cache,
	}
}

func (r *Redis) GetHandle(ctx context.Context, projectID string) (*sandbox.Handle, error) {
	spanCtx, span := tracer.Start(ctx, "sandbox-registry-get")
	defer span.End()

	item := r.cache.Get(projectID)
	if item != nil {
		return item.Value(), nil
	}

	ctx, cancel := context.WithTimeout(spanCtx, registryRedisTimeout)
	defer cancel()

	data, err := r.redisClient.Get(ctx, bindingKey(projectID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrHandleNotFound
		}

		return nil, fmt.Errorf("failed to get sandbox handle from redis: %w", err)
	}

	var handle *sandbox.Handle
	if err := json.Unmarshal(data, &handle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sandbox handle: %w", err)
	}

	r.cache.Set(projectID, handle, registryLocalCacheTTL)

	return handle, nil
}

func (r *Redis) SetHandle(ctx context.Context, projectID string, handle *sandbox.Handle) error {
	spanCtx, span := tracer.Start(ctx, "sandbox-registry-set")
	defer span.End()

	ctx, cancel := context.WithTimeout(spanCtx, registryRedisTimeout)
	defer cancel()

	data, err := json.Marshal(*handle)
	if err != nil {
		return fmt.Errorf("failed to marshal sandbox handle: %w", err)
	}

	status := r.redisClient.Set(ctx, bindingKey(projectID), string(data), entryTTL(handle))
	if status.Err() != nil {
		zap.L().Error("Error while storing sandbox handle in redis", logger.WithProjectID(projectID), zap.Error(status.Err()))

		return fmt.Errorf("failed to store sandbox handle in redis: %w", status.Err())
	}

	r.cache.Set(projectID, handle, registryLocalCacheTTL)

	return nil
}

func (r *Redis) ClearHandle(ctx context.Context, projectID string) error {
	spanCtx, span := tracer.Start(ctx, "sandbox-registry-clear")
	defer span.End()

	ctx, cancel := context.WithTimeout(spanCtx, registryRedisTimeout)
	defer cancel()

	if err := r.redisClient.Del(ctx, bindingKey(projectID)).Err(); err != nil {
		return fmt.Errorf("failed to clear sandbox handle in redis: %w", err)
	}

	r.cache.Delete(projectID)

	return nil
}

func (r *Redis) ListHandles(ctx context.Context) ([]*sandbox.Handle, error) {
	spanCtx, span := tracer.Start(ctx, "sandbox-registry-list")
	defer span.End()

	var handles []*sandbox.Handle

	iter := r.redisClient.Scan(spanCtx, 0, bindingKey("*"), 100).Iterator()
	for iter.Next(spanCtx) {
		data, err := r.redisClient.Get(spanCtx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}

			return nil, fmt.Errorf("failed to get sandbox handle from redis: %w", err)
		}

		var handle *sandbox.Handle
		if err := json.Unmarshal(data, &handle); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sandbox handle: %w", err)
		}

		handles = append(handles, handle)
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sandbox handles: %w", err)
	}

	return handles, nil
}

func (r *Redis) Close(_ context.Context) error {
	r.cache.Stop()

	return nil
}

func bindingKey(projectID string) string {
	return fmt.Sprintf("sandbox:binding:%s", projectID)
}
