// Package cache implements the Redis read-through view cache. Keys embed a
// per (tenant, scope) version so a single INCR retires every view of a scope.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/storeledger/storeledger/internal/events"
	"github.com/storeledger/storeledger/internal/observability"
)

// DefaultTTL applies when no TTL is configured.
const DefaultTTL = 5 * time.Minute

// Loader computes a view on a cache miss.
type Loader func(ctx context.Context) (any, error)

// Cache wraps Redis with scope versioning, key indexing and loader dedup.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
	hits   *prometheus.CounterVec
	misses *prometheus.CounterVec
}

// New builds a cache. A nil client makes every Fetch call the loader.
func New(client *redis.Client, ttl time.Duration, logger *slog.Logger, registerer prometheus.Registerer) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{client: client, ttl: ttl, logger: logger.With(slog.String("component", "cache"))}
	if registerer != nil {
		var err error
		if c.hits, err = observability.RegisterCounterVec(registerer, prometheus.CounterOpts{
			Name: "storeledger_cache_hits_total",
			Help: "View cache hits by scope.",
		}, []string{"scope"}); err != nil {
			c.logger.Warn("cache metrics disabled", slog.Any("error", err))
		}
		if c.misses, err = observability.RegisterCounterVec(registerer, prometheus.CounterOpts{
			Name: "storeledger_cache_misses_total",
			Help: "View cache misses by scope.",
		}, []string{"scope"}); err != nil {
			c.logger.Warn("cache metrics disabled", slog.Any("error", err))
		}
	}
	return c
}

func versionKey(tenantID int64, scope events.Scope) string {
	return fmt.Sprintf("view:%d:%s:version", tenantID, scope)
}

func indexKey(tenantID int64, scope events.Scope) string {
	return fmt.Sprintf("view:%d:%s:keys", tenantID, scope)
}

// Version returns the live version of a scope; an absent counter reads as zero.
func (c *Cache) Version(ctx context.Context, tenantID int64, scope events.Scope) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(tenantID, scope)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

// BuildKey composes view:{tenant}:{scope}:v{version}:{params}.
func BuildKey(tenantID int64, scope events.Scope, version int64, params ...string) string {
	suffix := "all"
	if len(params) > 0 {
		suffix = strings.Join(params, ":")
	}
	return fmt.Sprintf("view:%d:%s:v%d:%s", tenantID, scope, version, suffix)
}

// Fetch decodes the cached view into dest, populating it with loader on a miss.
// Redis failures degrade to calling the loader directly.
func (c *Cache) Fetch(ctx context.Context, tenantID int64, scope events.Scope, params []string, dest any, loader Loader) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		return loadInto(ctx, dest, loader)
	}

	version, err := c.Version(ctx, tenantID, scope)
	if err != nil {
		c.logger.Warn("cache version read failed", slog.Int64("tenant_id", tenantID), slog.String("scope", string(scope)), slog.Any("error", err))
		return loadInto(ctx, dest, loader)
	}
	key := BuildKey(tenantID, scope, version, params...)

	payload, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if err := json.Unmarshal(payload, dest); err == nil {
			c.observe(c.hits, scope)
			return nil
		}
		c.logger.Warn("cache entry undecodable", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("cache read failed", slog.String("key", key), slog.Any("error", err))
		return loadInto(ctx, dest, loader)
	}
	c.observe(c.misses, scope)

	// Waiters must not fail when the caller that started the load cancels.
	detached := context.WithoutCancel(ctx)
	resultChan := c.group.DoChan(key, func() (any, error) {
		value, err := loader(detached)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		c.store(detached, tenantID, scope, key, raw)
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

func (c *Cache) store(ctx context.Context, tenantID int64, scope events.Scope, key string, raw []byte) {
	idx := indexKey(tenantID, scope)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, raw, c.ttl)
		pipe.SAdd(ctx, idx, key)
		pipe.Expire(ctx, idx, 2*c.ttl)
		return nil
	})
	if err != nil {
		c.logger.Warn("cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

// Invalidate bumps the scope version and deletes every indexed view of it.
func (c *Cache) Invalidate(ctx context.Context, tenantID int64, scope events.Scope) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, versionKey(tenantID, scope)).Err(); err != nil {
		return fmt.Errorf("cache: bump %s: %w", scope, err)
	}
	idx := indexKey(tenantID, scope)
	keys, err := c.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("cache: index %s: %w", scope, err)
	}
	keys = append(keys, idx)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: delete %s: %w", scope, err)
	}
	return nil
}

func (c *Cache) observe(vec *prometheus.CounterVec, scope events.Scope) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(string(scope)).Inc()
}

func loadInto(ctx context.Context, dest any, loader Loader) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
