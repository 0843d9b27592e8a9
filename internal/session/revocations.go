// Package session tracks revoked bearer tokens so they can be refused before
// they expire.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations records revoked token ids until their natural expiry.
type Revocations interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type RedisRevocations struct {
	client *redis.Client
	prefix string
}

func NewRedisRevocations(redisURL string) (*RedisRevocations, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisRevocationsWithClient(client), nil
}

func NewRedisRevocationsWithClient(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client, prefix: "venue:revoked:"}
}

func (r *RedisRevocations) key(jti string) string {
	return r.prefix + jti
}

// Revoke marks jti revoked. A token that already expired needs no entry.
func (r *RedisRevocations) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key(jti), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := r.client.Get(ctx, r.key(jti)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup revoked token: %w", err)
	}
	return true, nil
}

func (r *RedisRevocations) Close() error {
	return r.client.Close()
}

func (r *RedisRevocations) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// MemoryRevocations serves single-process deployments without Redis.
type MemoryRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{revoked: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryRevocations) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !expiresAt.After(m.now()) {
		return nil
	}
	m.revoked[jti] = expiresAt
	return nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiresAt, ok := m.revoked[jti]
	if !ok {
		return false, nil
	}
	if !expiresAt.After(m.now()) {
		delete(m.revoked, jti)
		return false, nil
	}
	return true, nil
}
