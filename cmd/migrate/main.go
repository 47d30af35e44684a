package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/certledger-backend/pkg/config"
	"github.com/angelmondragon/certledger-backend/pkg/db"
	"github.com/angelmondragon/certledger-backend/pkg/logger"
	"github.com/angelmondragon/certledger-backend/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", "", "migrations directory (empty uses the set bundled into this binary)")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate work on files only
	switch *cmd {
	case "create":
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(target, *name, time.Now())
		exitOn(err, "create migration")
		fmt.Println("created migration:", path)
		return
	case "validate":
		exitOn(migrate.ValidateDir(*dir), "validate migrations")
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	exitOn(err, "load config")

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"cmd": *cmd,
		"dir": *dir,
	})

	exitOn(runDB(ctx, logg, cfg, *cmd, *dir, *version), *cmd)
}

// runDB executes the database-backed commands. The connection is closed
// before it returns.
func runDB(ctx context.Context, logg *logger.Logger, cfg *config.Config, cmd, dir, version string) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("extract sql.DB: %w", err)
	}
	fsys, err := migrate.Source(dir)
	if err != nil {
		return fmt.Errorf("resolve migrations: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, fsys)
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}

	switch cmd {
	case "up":
		applied, err := runner.Up(ctx)
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "applied", applied), "migrations applied")

	case "down":
		rolledBack, err := runner.Down(ctx)
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "version", rolledBack), "migration rolled back")

	case "status":
		rows, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tFILE")
		for _, row := range rows {
			state, at := "pending", "-"
			if row.Applied {
				state, at = "applied", row.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", row.Version, state, at, row.Path)
		}
		return tw.Flush()

	case "version":
		target, err := migrate.ParseVersion(version)
		if err != nil {
			return fmt.Errorf("parse -version: %w", err)
		}
		if err := runner.MigrateTo(ctx, target); err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "version", target), "schema at requested version")

	default:
		return fmt.Errorf("unknown -cmd value %q", cmd)
	}
	return nil
}

func exitOn(err error, step string) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
