package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"budgettracker/internal/config"
	"budgettracker/internal/database"
	"budgettracker/internal/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

func main() {
	logger.Init(os.Getenv("ENV"))

	err := newRootCmd().Execute()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or roll back the postgres schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		migrationCmd("up", "Apply all pending migrations", cobra.NoArgs, up),
		migrationCmd("down [N]", "Roll back N migrations (default 1)", cobra.MaximumNArgs(1), down),
		migrationCmd("version", "Print the current schema version", cobra.NoArgs, version),
		migrationCmd("force <version>", "Mark a version as applied after a failed run", cobra.ExactArgs(1), force),
	)
	return root
}

// migrationCmd opens a migrator for the configured database, runs fn and
// closes it again.
func migrationCmd(use, short string, args cobra.PositionalArgs, fn func(*migrate.Migrate, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(_ *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				logger.Get().Errorw("migration setup failed", "error", err)
				return err
			}
			defer func() {
				srcErr, dbErr := m.Close()
				if srcErr != nil {
					logger.Get().Warnf("migrate source close error: %v", srcErr)
				}
				if dbErr != nil {
					logger.Get().Warnf("migrate database close error: %v", dbErr)
				}
			}()

			if err := fn(m, args); err != nil {
				logger.Get().Errorw("migration failed", "command", use, "error", err)
				return err
			}
			return nil
		},
	}
}

func open() (*migrate.Migrate, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	dbConfig := database.FromAppConfig(cfg)
	if dbConfig.Driver != database.DriverPostgres {
		return nil, fmt.Errorf("SQL migrations require the postgres driver; %s schemas are auto-migrated by the api", dbConfig.Driver)
	}

	m, err := migrate.New(database.MigrationsURL, dbConfig.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

func up(m *migrate.Migrate, _ []string) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	logger.Get().Info("Migrations applied successfully")
	return nil
}

func down(m *migrate.Migrate, args []string) error {
	steps := 1
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid step count %q", args[0])
		}
		steps = n
	}
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	logger.Get().Infof("Rolled back %d migration(s)", steps)
	return nil
}

func version(m *migrate.Migrate, _ []string) error {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Get().Info("No migrations applied yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	logger.Get().Infof("Version: %d, Dirty: %v", v, dirty)
	return nil
}

func force(m *migrate.Migrate, args []string) error {
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid version: %w", err)
	}
	if err := m.Force(v); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}
	logger.Get().Infof("Forced version %d", v)
	return nil
}
