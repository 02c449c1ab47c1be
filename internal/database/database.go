package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"budgettracker/internal/logger"
	"budgettracker/internal/models"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MigrationsURL is where golang-migrate looks for SQL migrations.
const MigrationsURL = "file://migrations"

// Manager handles database operations
type Manager struct {
	db     *gorm.DB
	driver string
	url    string
}

// NewManager creates a new database manager for the configured driver.
func NewManager(config *Config) (*Manager, error) {
	switch config.Driver {
	case DriverSQLite:
		db, err := gorm.Open(sqlite.Open(config.SQLitePath), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying DB: %w", err)
		}
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
		return &Manager{db: db, driver: DriverSQLite}, nil

	case DriverPostgres, "":
		db, err := gorm.Open(postgres.New(postgres.Config{
			DSN:                  config.DSN(),
			PreferSimpleProtocol: true,
		}), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying DB: %w", err)
		}
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)

		return &Manager{db: db, driver: DriverPostgres, url: config.URL()}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}
}

// NewManagerFromDB wraps an already opened connection. Used by tests.
func NewManagerFromDB(db *gorm.DB) *Manager {
	return &Manager{db: db, driver: db.Dialector.Name()}
}

// Driver returns the active database driver name.
func (m *Manager) Driver() string {
	return m.driver
}

// Migrate brings the schema up to date: SQL migrations for postgres,
// AutoMigrate for sqlite.
func (m *Manager) Migrate() error {
	if m.driver == DriverPostgres {
		return m.RunMigrations()
	}
	logger.Get().Infow("Auto-migrating schema", "driver", m.driver)
	return AutoMigrate(m.db)
}

// AutoMigrate creates or updates tables for every persisted model.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.User{}, &models.Transaction{}, &models.AuditLog{}); err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}
	return nil
}

// RunMigrations applies pending SQL migrations from the migrations/ directory.
func (m *Manager) RunMigrations() error {
	logger.Get().Info("Running database migrations...")

	mig, err := migrate.New(MigrationsURL, m.url)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := mig.Close()
		if srcErr != nil {
			logger.Get().Warnf("migrate source close error: %v", srcErr)
		}
		if dbErr != nil {
			logger.Get().Warnf("migrate database close error: %v", dbErr)
		}
	}()

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	logger.Get().Info("Database migrations completed successfully")
	return nil
}

// PGXPool opens a pgx connection pool against the same database. It is used
// by the LISTEN/NOTIFY realtime bus and is only available for postgres.
func (m *Manager) PGXPool(ctx context.Context) (*pgxpool.Pool, error) {
	if m.driver != DriverPostgres {
		return nil, fmt.Errorf("pgx pool requires the postgres driver, have %q", m.driver)
	}
	pool, err := pgxpool.New(ctx, m.url)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// DB returns the underlying GORM database instance
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Close releases the underlying connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
