package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is embedded by the domain repositories.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the connection bound to ctx.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// UpdateWhere applies updates to the rows of model matching the condition and
// reports how many changed. Callers use the count as a compare-and-set result
// when the condition pins the expected state.
func (b Base) UpdateWhere(ctx context.Context, model any, updates map[string]any, query string, args ...any) (int64, error) {
	result := b.DB(ctx).Model(model).Where(query, args...).Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
