package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// Cursor points just past the last row of a page ordered by
// (created_at DESC, id DESC). ID is text so certificate ids and log uuids
// share the type.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer asks for one extra row so Trim can tell whether another
// page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// EncodeCursor renders a cursor that is safe to pass in a query string.
func EncodeCursor(cursor Cursor) string {
	payload := cursor.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + cursor.ID
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// ParseCursor decodes a cursor. Padded standard base64 from older clients is
// still accepted.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		var stdErr error
		if decoded, stdErr = base64.StdEncoding.DecodeString(value); stdErr != nil {
			return nil, fmt.Errorf("decode cursor: %w", err)
		}
	}
	createdAt, id, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return nil, fmt.Errorf("invalid cursor format")
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("invalid cursor id")
	}
	return &Cursor{CreatedAt: t, ID: id}, nil
}

// Trim cuts rows fetched with LimitWithBuffer down to one page and returns the
// cursor for the next page, or "" on the last page. The result is never nil.
func Trim[T any](rows []T, limit int, cursorOf func(T) Cursor) ([]T, string) {
	limit = NormalizeLimit(limit)
	if len(rows) <= limit {
		if rows == nil {
			rows = []T{}
		}
		return rows, ""
	}
	page := rows[:limit]
	return page, EncodeCursor(cursorOf(page[limit-1]))
}
