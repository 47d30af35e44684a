package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryLockStore struct {
	values map[string]string
}

func (m *memoryLockStore) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = owner
	return true, nil
}

func (m *memoryLockStore) ExtendLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return m.values[key] == owner, nil
}

func (m *memoryLockStore) ReleaseLock(ctx context.Context, key, owner string) (bool, error) {
	if m.values[key] != owner {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockLeaseLifecycle(t *testing.T) {
	ctx := context.Background()
	store := &memoryLockStore{values: map[string]string{}}
	first, err := NewRedisLock(store, "certledger:lock:cron-worker:dev", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "certledger:lock:cron-worker:dev", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok, "second replica must not acquire a held lock")

	ok, err = first.Extend(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, second.Release(ctx))
	require.Len(t, store.values, 1, "non-owner release must leave the lock")

	require.NoError(t, first.Release(ctx))
	require.Empty(t, store.values)
}

func TestRedisLockExtendReportsLostLease(t *testing.T) {
	ctx := context.Background()
	store := &memoryLockStore{values: map[string]string{}}
	lock, err := NewRedisLock(store, "k", 0)
	require.NoError(t, err)
	require.Equal(t, defaultLockTTL, lock.ttl)

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	store.values["k"] = "someone-else"
	ok, err = lock.Extend(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, lock.Release(ctx))
	require.Equal(t, "someone-else", store.values["k"])
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "k", time.Minute)
	require.Error(t, err)
	_, err = NewRedisLock(&memoryLockStore{values: map[string]string{}}, "", time.Minute)
	require.Error(t, err)
}
