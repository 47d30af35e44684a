package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/certledger-backend/pkg/config"
	"github.com/angelmondragon/certledger-backend/pkg/db"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
)

// MaybeRunDev applies the bundled migrations when running in dev with
// auto-migrate enabled. The bundled SQL is Postgres only, so other dialects
// are skipped.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if dialect := client.DB().Dialector.Name(); dialect != "postgres" {
		logg.Warn(logg.WithField(ctx, "dialect", dialect), "skipping bundled migrations")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	fsys, err := Source("")
	if err != nil {
		return err
	}
	runner, err := NewRunner(sqlDB, fsys)
	if err != nil {
		return err
	}

	applied, err := runner.Up(ctx)
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "applied", applied), "schema migrations applied")
	return nil
}
