package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type lease struct {
	ID    string `gorm:"primaryKey"`
	State string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&lease{}))
	return conn
}

func TestBaseDBBindsContext(t *testing.T) {
	base := NewBase(newTestDB(t))

	ctx := context.WithValue(context.Background(), struct{}{}, "value")
	require.Equal(t, ctx, base.DB(ctx).Statement.Context)
}

func TestUpdateWhereActsAsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	base := NewBase(newTestDB(t))
	require.NoError(t, base.DB(ctx).Create(&lease{ID: "DEIT20260001", State: "provisional"}).Error)

	n, err := base.UpdateWhere(ctx, &lease{}, map[string]any{"state": "issued"}, "id = ? AND state = ?", "DEIT20260001", "provisional")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = base.UpdateWhere(ctx, &lease{}, map[string]any{"state": "failed"}, "id = ? AND state = ?", "DEIT20260001", "provisional")
	require.NoError(t, err)
	require.Zero(t, n, "second transition must not match")

	var got lease
	require.NoError(t, base.DB(ctx).Take(&got, "id = ?", "DEIT20260001").Error)
	require.Equal(t, "issued", got.State)
}
