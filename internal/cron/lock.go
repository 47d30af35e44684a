package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 30 * time.Minute

// Lock coordinates exclusive cron cycles across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	// Extend renews the lease. It reports false once the lease was lost.
	Extend(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type leaseStore interface {
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ExtendLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) (bool, error)
}

// RedisLock holds a lease under a fresh owner token per cycle. Extend and
// Release act only while that token still owns the key.
type RedisLock struct {
	store leaseStore
	key   string
	ttl   time.Duration

	mu    sync.Mutex
	token string
}

func NewRedisLock(store leaseStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("redis client required for lock")
	case key == "":
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	token := uuid.NewString()
	won, err := l.store.AcquireLock(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if won {
		l.token = token
	}
	return won, nil
}

func (l *RedisLock) Extend(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.token == "" {
		return false, nil
	}
	held, err := l.store.ExtendLock(ctx, l.key, l.token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if !held {
		l.token = ""
	}
	return held, nil
}

// Release is a no-op when no lease is held.
func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	if _, err := l.store.ReleaseLock(ctx, l.key, token); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}
