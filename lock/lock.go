// Package lock provides short-lived mutual exclusion keyed by string.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNotObtained is returned when another holder owns the key.
var ErrNotObtained = errors.New("lock not obtained")

type Lock interface {
	// Release frees the lock if this holder still owns it.
	Release(ctx context.Context) error
}

type Locker interface {
	// Obtain acquires key for ttl without blocking. It returns ErrNotObtained when the key is held.
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// LeadKey is the lock key guarding one lead's send cycle.
func LeadKey(leadID uint) string {
	return fmt.Sprintf("lead:%d", leadID)
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker uses SET NX PX with a random ownership token and a Lua release.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	fullKey := "lock:" + key

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, ErrNotObtained
	}
	return &redisLock{client: l.client, key: fullKey, token: token}, nil
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// LocalLocker guards keys within a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.held[key]; ok && l.now().Before(entry.expires) {
		return nil, ErrNotObtained
	}
	l.held[key] = localEntry{token: token, expires: l.now().Add(ttl)}
	return &localLock{owner: l, key: key, token: token}, nil
}

type localLock struct {
	owner *LocalLocker
	key   string
	token string
}

func (l *localLock) Release(ctx context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	if entry, ok := l.owner.held[l.key]; ok && entry.token == l.token {
		delete(l.owner.held, l.key)
	}
	return nil
}

// NoopLocker always succeeds. Used when no shared lock backend is configured.
type NoopLocker struct{}

func (NoopLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	return noopLock{}, nil
}

type noopLock struct{}

func (noopLock) Release(ctx context.Context) error { return nil }
