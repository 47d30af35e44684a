package identifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// YearCounter reports how many certificates were created in a calendar year.
type YearCounter interface {
	CountInYear(ctx context.Context, year int) (int64, error)
}

// Allocator derives year-scoped sequential identifiers such as DEIT20260001.
// Allocation is count-then-format and therefore racy; the primary key on the
// certificates table decides which caller wins.
type Allocator struct {
	prefix  string
	counter YearCounter
	now     func() time.Time
}

func NewAllocator(prefix string, counter YearCounter) (*Allocator, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errors.New("identifier prefix is required")
	}
	if counter == nil {
		return nil, errors.New("year counter is required")
	}
	return &Allocator{prefix: prefix, counter: counter, now: time.Now}, nil
}

// Next returns the identifier for the next certificate of the current UTC year.
func (a *Allocator) Next(ctx context.Context) (string, error) {
	year := a.now().UTC().Year()
	count, err := a.counter.CountInYear(ctx, year)
	if err != nil {
		return "", fmt.Errorf("count certificates for %d: %w", year, err)
	}
	return Format(a.prefix, year, count+1), nil
}

// Format renders prefix, year and a sequence padded to at least four digits.
func Format(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s%04d%04d", prefix, year, seq)
}
