package batch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/certledger-backend/internal/issuance"
	pkgerrors "github.com/angelmondragon/certledger-backend/pkg/errors"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
)

type issuer interface {
	Issue(ctx context.Context, req issuance.Request) (*issuance.Result, error)
}

// Success is an item that issued.
type Success struct {
	Index  int              `json:"index"`
	Result *issuance.Result `json:"result"`
}

// Failure is an item that did not issue.
type Failure struct {
	Index     int    `json:"index"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
}

// Result collects per-item outcomes in input order. Indices are 1-based.
type Result struct {
	Successful []Success `json:"successful"`
	Failed     []Failure `json:"failed"`
	Total      int       `json:"total"`
}

// Coordinator issues a list of certificates in sequential groups whose items
// run concurrently.
type Coordinator struct {
	issuer    issuer
	maxItems  int
	groupSize int
	logg      *logger.Logger
}

func NewCoordinator(iss issuer, maxItems, groupSize int, logg *logger.Logger) (*Coordinator, error) {
	if iss == nil {
		return nil, fmt.Errorf("issuer required")
	}
	if maxItems <= 0 {
		return nil, fmt.Errorf("max items must be positive")
	}
	if groupSize <= 0 {
		return nil, fmt.Errorf("group size must be positive")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Coordinator{issuer: iss, maxItems: maxItems, groupSize: groupSize, logg: logg}, nil
}

type outcome struct {
	result *issuance.Result
	err    error
}

// Issue runs every item. An oversized or empty batch is rejected whole; after
// that no item's failure stops the others.
func (c *Coordinator) Issue(ctx context.Context, items []issuance.Request) (*Result, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch must contain at least one certificate")
	}
	if len(items) > c.maxItems {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("batch exceeds %d certificates", c.maxItems)).
			WithDetails(map[string]any{"max": c.maxItems, "received": len(items)})
	}

	outcomes := make([]outcome, len(items))
	for start := 0; start < len(items); start += c.groupSize {
		end := min(start+c.groupSize, len(items))
		c.runGroup(ctx, items, outcomes, start, end)
		c.logg.Debug(c.logg.WithFields(ctx, map[string]any{"group_start": start + 1, "group_end": end}), "batch group finished")
	}

	res := &Result{Total: len(items), Successful: []Success{}, Failed: []Failure{}}
	for i, out := range outcomes {
		if out.err != nil {
			res.Failed = append(res.Failed, toFailure(i+1, out.err))
			continue
		}
		res.Successful = append(res.Successful, Success{Index: i + 1, Result: out.result})
	}

	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"total":      res.Total,
		"successful": len(res.Successful),
		"failed":     len(res.Failed),
	}), "batch issuance completed")
	return res, nil
}

// runGroup issues items[start:end] concurrently and waits for all of them.
// Item errors are captured per slot and never returned to the group, so a
// failing item does not cancel its siblings.
func (c *Coordinator) runGroup(ctx context.Context, items []issuance.Request, outcomes []outcome, start, end int) {
	var g errgroup.Group
	var mu sync.Mutex
	for i := start; i < end; i++ {
		g.Go(func() error {
			req := items[i].Normalize()
			var out outcome
			if err := req.Validate(); err != nil {
				out.err = err
			} else {
				out.result, out.err = c.issuer.Issue(ctx, req)
			}
			mu.Lock()
			outcomes[i] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

func toFailure(index int, err error) Failure {
	f := Failure{Index: index, Code: string(pkgerrors.CodeInternal), Reason: err.Error(), Retryable: pkgerrors.IsRetryable(err)}
	if typed := pkgerrors.As(err); typed != nil {
		f.Code = string(typed.Code())
		f.Reason = typed.Message()
		if pkgerrors.MetadataFor(typed.Code()).DetailsAllowed {
			f.Details = typed.Details()
		}
	}
	return f
}
