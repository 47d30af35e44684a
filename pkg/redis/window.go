package redis

import (
	"context"
	"time"
)

// INCR and PEXPIRE run as one script; the window starts at the first hit.
const fixedWindowScript = `local n = redis.call("INCR", KEYS[1])
if n == 1 then redis.call("PEXPIRE", KEYS[1], ARGV[1]) end
return n`

// FixedWindowAllow counts a hit for scope and reports whether it is within
// limit for the current window, along with the running count.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if c == nil || c.cmds == nil {
		return false, 0, errNotInitialized
	}
	count, err := c.cmds.Eval(ctx, fixedWindowScript, []string{key("ratelimit", scope)}, window.Milliseconds()).Int64()
	if err != nil {
		return false, 0, err
	}
	return count <= limit, count, nil
}
