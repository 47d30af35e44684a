package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/certledger-backend/pkg/enums"
)

// fallbackWrite synthesizes a ledger-shaped result. The reference hashes the
// payload together with the issuance time so distinct certificates never
// collide.
func (c *Client) fallbackWrite(ctx context.Context, req IssueRequest, cause error) (WriteResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return WriteResult{}, fmt.Errorf("marshal fallback payload: %w", err)
	}
	issuedAt := req.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = c.now()
	}
	sum := sha256.Sum256(append(payload, []byte(issuedAt.UTC().Format(time.RFC3339Nano))...))

	return WriteResult{
		Reference:     "0x" + hex.EncodeToString(sum[:]),
		BlockHeight:   c.fallbackHeight(ctx),
		GasUsed:       fallbackGasUsed,
		Cost:          c.gasPrice.Mul(decimal.NewFromInt(fallbackGasUsed)),
		Origin:        enums.LedgerOriginFallback,
		FallbackCause: cause,
	}, nil
}

// fallbackHeight prefers the real chain tip when the node still answers.
func (c *Client) fallbackHeight(ctx context.Context) int64 {
	if c.chain != nil {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()
		if tip, err := c.chain.BlockNumber(callCtx); err == nil {
			return int64(tip)
		}
	}
	return c.randomTip()
}
