package routing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aegisflow/aegis/internal/agent"
	"github.com/aegisflow/aegis/pkg/logger"
)

// Cache holds per-agent-type replica snapshots in Redis, shared across
// process restarts and multiple Coordinator instances. Pool drops an
// agent type's entry on every mutation; Pool itself never reads the
// cache or writes snapshots into it, so an entry exists only where a
// caller has stored one with Set.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache wraps an already-configured *redis.Client (see
// _examples/jordigilh-kubernaut's goredis.NewClient(&goredis.Options{...})
// construction for the options this project's config layer should
// populate: Addr, Password, DB, PoolSize, MinIdleConns, MaxRetries).
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(agentType string) string {
	return "aegis:routing:pool:" + agentType
}

// Get returns a cached replica snapshot for agentType, or ok=false on
// a miss (including Redis being unreachable — the cache is a
// best-effort optimization, never a hard dependency for dispatch).
func (c *Cache) Get(ctx context.Context, agentType string) (replicas []agent.Replica, ok bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, cacheKey(agentType)).Bytes()
	if err != nil {
		return nil, false
	}
	if err := json.Unmarshal(raw, &replicas); err != nil {
		return nil, false
	}
	return replicas, true
}

// Set stores a replica snapshot for agentType with the configured TTL.
func (c *Cache) Set(ctx context.Context, agentType string, replicas []agent.Replica) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(replicas)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(agentType), raw, c.ttl).Err(); err != nil {
		logger.Warnw("routing: cache set failed", "agent_type", agentType, "error", err)
	}
}

// Invalidate drops the cached snapshot for agentType; called by Pool
// on every Upsert/Remove so stale entries never outlive a mutation
// (falling back on TTL expiry alone would let a just-dead replica
// keep receiving dispatches for up to ttl).
func (c *Cache) Invalidate(agentType string) {
	if c == nil || c.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.client.Del(ctx, cacheKey(agentType)).Err(); err != nil {
		logger.Warnw("routing: cache invalidate failed", "agent_type", agentType, "error", err)
	}
}
