package redis

import (
	"context"
	"time"
)

// Both scripts compare the owner token first, so a worker whose lease
// already expired cannot free or extend a successor's lease.
const (
	releaseLeaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`
	extendLeaseScript  = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) end return 0`
)

// AcquireLock stores owner at key unless another owner holds it.
func (c *Client) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if c == nil || c.cmds == nil {
		return false, errNotInitialized
	}
	return c.cmds.SetNX(ctx, key, owner, ttl).Result()
}

// ExtendLock resets the TTL of key while owner still holds it.
func (c *Client) ExtendLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return c.ownerScript(ctx, extendLeaseScript, key, owner, ttl.Milliseconds())
}

// ReleaseLock deletes key only while it still holds owner.
func (c *Client) ReleaseLock(ctx context.Context, key, owner string) (bool, error) {
	return c.ownerScript(ctx, releaseLeaseScript, key, owner)
}

func (c *Client) ownerScript(ctx context.Context, script, key, owner string, extra ...any) (bool, error) {
	if c == nil || c.cmds == nil {
		return false, errNotInitialized
	}
	args := append([]any{owner}, extra...)
	n, err := c.cmds.Eval(ctx, script, []string{key}, args...).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
