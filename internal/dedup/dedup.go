// Package dedup provides the request-dedup store used for idempotent receipt
// of fetch requests. Mark is atomic: under concurrent duplicates exactly one
// caller wins the claim.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store answers whether a request id has been seen and claims unseen ids.
type Store interface {
	// Mark claims the id, reporting true only for the first caller.
	Mark(ctx context.Context, id string) (bool, error)
	// Seen reports whether the id has been claimed.
	Seen(ctx context.Context, id string) (bool, error)
}

// Redis implements Store with SETNX plus a TTL so the dedup window does not
// grow without bound.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{client: client, prefix: "dedup:request:", ttl: ttl}
}

func (r *Redis) Mark(ctx context.Context, id string) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+id, 1, r.ttl).Result()
}

func (r *Redis) Seen(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Memory implements Store in process memory for tests and single-node runs.
type Memory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

func (m *Memory) Mark(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[id]; ok {
		return false, nil
	}
	m.seen[id] = struct{}{}
	return true, nil
}

func (m *Memory) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[id]
	return ok, nil
}
