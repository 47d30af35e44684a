package ledger

import (
	"context"
	"time"
)

const (
	modeLedger   = "ledger"
	modeFallback = "fallback"
)

// Status is a point-in-time health snapshot of the ledger client.
type Status struct {
	Mode      string    `json:"mode"`
	Reachable bool      `json:"reachable"`
	ChainTip  uint64    `json:"chainTip,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
	Error     string    `json:"error,omitempty"`
}

// Health returns the cached status while it is younger than the configured
// TTL, probing the chain tip otherwise.
func (c *Client) Health(ctx context.Context) Status {
	now := c.now()

	c.mu.Lock()
	if c.status != nil && c.cfg.StatusTTL > 0 && now.Sub(c.status.CheckedAt) < c.cfg.StatusTTL {
		cached := *c.status
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	status := c.probe(ctx, now)

	c.mu.Lock()
	c.status = &status
	c.mu.Unlock()
	return status
}

func (c *Client) probe(ctx context.Context, now time.Time) Status {
	if c.chain == nil {
		status := Status{Mode: modeFallback, CheckedAt: now}
		if c.initErr != nil {
			status.Error = c.initErr.Error()
		}
		return status
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	tip, err := c.chain.BlockNumber(callCtx)
	if err != nil {
		return Status{Mode: modeLedger, CheckedAt: now, Error: err.Error()}
	}
	return Status{Mode: modeLedger, Reachable: true, ChainTip: tip, CheckedAt: now}
}

func (c *Client) invalidateStatus() {
	c.mu.Lock()
	c.status = nil
	c.mu.Unlock()
}
