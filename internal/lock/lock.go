// Package lock provides the per-provider sync lock.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrHeld is returned when another holder owns the lock.
var ErrHeld = errors.New("lock held")

// Locker hands out named, expiring locks. The release func is safe to call
// more than once.
type Locker interface {
	Acquire(ctx context.Context, name string) (release func(), err error)
}

// RedisLocker implements Locker with SET NX PX. While held, the key's TTL is
// extended every renewEvery so long syncs keep it; a crashed holder's lock
// still expires after ttl. Release only deletes the key while it still holds
// this holder's token.
type RedisLocker struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	renewEvery time.Duration
}

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLocker(redisURL string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisLockerWithClient(client, ttl), nil
}

func NewRedisLockerWithClient(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{client: client, prefix: "venue:sync-lock:", ttl: ttl, renewEvery: ttl / 3}
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + name
}

func (l *RedisLocker) Acquire(ctx context.Context, name string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	ok, err := l.client.SetNX(ctx, l.key(name), token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(name, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// the caller's context may already be cancelled
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{l.key(name)}, token).Err()
		})
	}, nil
}

// renew extends the key's TTL until stop closes. It gives up once the key no
// longer carries token, since another holder owns it by then.
func (l *RedisLocker) renew(name, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		extended, err := renewScript.Run(ctx, l.client, []string{l.key(name)}, token, l.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			log.Warn().Err(err).Str("lock", name).Msg("lock: renew failed")
		case extended == 0:
			log.Error().Str("lock", name).Msg("lock: lost before release")
			return
		}
	}
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) Acquire(_ context.Context, name string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, ErrHeld
	}
	l.held[name] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, nil
}

// Layered takes the local lock first so one process never races itself on
// the shared backend.
type Layered struct {
	local  *LocalLocker
	shared Locker
}

func NewLayered(shared Locker) *Layered {
	return &Layered{local: NewLocalLocker(), shared: shared}
}

func (l *Layered) Acquire(ctx context.Context, name string) (func(), error) {
	releaseLocal, err := l.local.Acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	if l.shared == nil {
		return releaseLocal, nil
	}
	releaseShared, err := l.shared.Acquire(ctx, name)
	if err != nil {
		releaseLocal()
		return nil, err
	}
	return func() {
		releaseShared()
		releaseLocal()
	}, nil
}
