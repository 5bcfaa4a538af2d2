package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const leaseKeyPrefix = "course-proposals:lease:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// LeaseRepository hands out short-lived exclusive leases keyed by proposal id.
// With a Redis client the lease is shared across processes; without one it is
// held in process memory.
type LeaseRepository struct {
	client *redis.Client
	logger *zap.Logger

	mu    sync.Mutex
	local map[string]localLease
}

type localLease struct {
	token     string
	expiresAt time.Time
}

// NewLeaseRepository constructs a lease repository. client may be nil.
func NewLeaseRepository(client *redis.Client, logger *zap.Logger) *LeaseRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeaseRepository{client: client, logger: logger, local: make(map[string]localLease)}
}

// Acquire takes the lease for key. ok is false when another holder owns it.
func (r *LeaseRepository) Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	if r.client == nil {
		return token, r.acquireLocal(key, token, ttl), nil
	}

	ok, err = r.client.SetNX(ctx, leaseKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis acquire lease %s: %w", key, err)
	}
	return token, ok, nil
}

// Release drops the lease if token still owns it.
func (r *LeaseRepository) Release(ctx context.Context, key, token string) error {
	if r.client == nil {
		r.releaseLocal(key, token)
		return nil
	}

	if err := releaseScript.Run(ctx, r.client, []string{leaseKeyPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("redis release lease %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *LeaseRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *LeaseRepository) acquireLocal(key, token string, ttl time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if held, exists := r.local[key]; exists && now.Before(held.expiresAt) {
		return false
	}
	r.local[key] = localLease{token: token, expiresAt: now.Add(ttl)}
	return true
}

func (r *LeaseRepository) releaseLocal(key, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if held, exists := r.local[key]; exists && held.token == token {
		delete(r.local, key)
	}
}
