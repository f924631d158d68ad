package external

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aegisflow/aegis/internal/agent"
	"github.com/aegisflow/aegis/pkg/logger"
)

// CertCache is a read-through cache in front of agent.Store's
// certificate table, mirroring internal/routing.Cache's role for the
// replica pool: avoid a Postgres round trip on every signature
// verification across multiple Coordinator/Consensus processes, while
// still invalidating immediately on revocation rather than waiting out
// a TTL.
type CertCache interface {
	Get(ctx context.Context, agentID string) (agent.Certificate, bool)
	Set(ctx context.Context, agentID string, cert agent.Certificate)
	Invalidate(ctx context.Context, agentID string)
}

// RedisCertCache is the production CertCache, go-redis-backed.
type RedisCertCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCertCache wraps an already-configured *redis.Client.
func NewRedisCertCache(client *redis.Client, ttl time.Duration) *RedisCertCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCertCache{client: client, ttl: ttl}
}

func certCacheKey(agentID string) string { return "aegis:cert:" + agentID }

// Get satisfies CertCache; a miss (including Redis being unreachable)
// just means the caller falls back to agent.Store directly, so no
// error is returned.
func (c *RedisCertCache) Get(ctx context.Context, agentID string) (agent.Certificate, bool) {
	raw, err := c.client.Get(ctx, certCacheKey(agentID)).Bytes()
	if err != nil {
		return agent.Certificate{}, false
	}
	var cert agent.Certificate
	if err := json.Unmarshal(raw, &cert); err != nil {
		return agent.Certificate{}, false
	}
	return cert, true
}

// Set satisfies CertCache.
func (c *RedisCertCache) Set(ctx context.Context, agentID string, cert agent.Certificate) {
	raw, err := json.Marshal(cert)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, certCacheKey(agentID), raw, c.ttl).Err(); err != nil {
		logger.Warnw("certcache: set failed", logger.FieldAgentID, agentID, logger.FieldError, err)
	}
}

// Invalidate drops agentID's cached certificate immediately — called
// on revocation so a cached "active" status can never outlive the
// revoke by up to ttl.
func (c *RedisCertCache) Invalidate(ctx context.Context, agentID string) {
	if err := c.client.Del(ctx, certCacheKey(agentID)).Err(); err != nil {
		logger.Warnw("certcache: invalidate failed", logger.FieldAgentID, agentID, logger.FieldError, err)
	}
}

// MemCertCache is an in-memory CertCache for tests.
type MemCertCache struct {
	entries map[string]agent.Certificate
}

// NewMemCertCache builds an empty MemCertCache.
func NewMemCertCache() *MemCertCache {
	return &MemCertCache{entries: make(map[string]agent.Certificate)}
}

// Get satisfies CertCache.
func (c *MemCertCache) Get(_ context.Context, agentID string) (agent.Certificate, bool) {
	cert, ok := c.entries[agentID]
	return cert, ok
}

// Set satisfies CertCache.
func (c *MemCertCache) Set(_ context.Context, agentID string, cert agent.Certificate) {
	c.entries[agentID] = cert
}

// Invalidate satisfies CertCache.
func (c *MemCertCache) Invalidate(_ context.Context, agentID string) {
	delete(c.entries, agentID)
}
