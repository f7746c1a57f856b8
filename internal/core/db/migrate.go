// Package db provides the embedded store: schema migrations and the
// mutex-guarded Store type backing destinations and jobs.
package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/immich-backup/backup/internal/core/errs"
	"github.com/immich-backup/backup/internal/core/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

func log() *zap.Logger {
	return logger.Named("db")
}

// MigrationMode represents the database migration mode. Both values apply
// the same embedded versioned migrations today; the distinction is kept for
// config-file compatibility and as a home for a future destination-type
// auto-provisioning path.
type MigrationMode string

const (
	// MigrationModeVersioned applies the embedded versioned migration files (the default).
	MigrationModeVersioned MigrationMode = "versioned"
	// MigrationModeAuto currently behaves identically to MigrationModeVersioned.
	MigrationModeAuto MigrationMode = "auto"
)

// ParseMigrationMode parses a string to MigrationMode.
// Returns MigrationModeVersioned for unknown values.
func ParseMigrationMode(s string) MigrationMode {
	switch s {
	case "auto":
		return MigrationModeAuto
	default:
		return MigrationModeVersioned
	}
}

// migrateLogger implements migrate.Logger for golang-migrate.
type migrateLogger struct {
	environment string
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log().Info(fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return l.environment == "development"
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// requiredJobColumns are the columns Store's operations assume exist. If one
// is missing after the versioned migrations ran, the schema cannot support
// the application and Migrate fails with ErrSchemaMigrationFailed.
var requiredJobColumns = []string{
	"id", "destination_id", "source_path", "status", "priority",
	"bytes_total", "bytes_transferred", "files_total", "files_transferred",
	"transfer_speed", "started_at", "completed_at", "last_update",
	"error_message", "retry_count",
}

// Migrate executes the embedded versioned migrations and then verifies, via
// introspection of the jobs table's columns, that the schema the Store
// relies on is actually present. It also attempts to create one
// non-essential secondary index; a failure there is logged but non-fatal,
// matching the distinction between required-column and non-essential-index
// failures.
func Migrate(db *sql.DB, environment string) error {
	m, err := newMigrate(db)
	if err != nil {
		return errors.Join(errs.ErrSchemaMigrationFailed, err)
	}
	m.Log = &migrateLogger{environment: environment}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log().Info("no pending migrations")
		} else {
			return errors.Join(errs.ErrSchemaMigrationFailed, fmt.Errorf("migration failed: %w", err))
		}
	} else {
		log().Info("migrations completed successfully")
	}

	if err := verifyJobColumns(db); err != nil {
		return errors.Join(errs.ErrSchemaMigrationFailed, err)
	}

	if err := ensureNonEssentialIndex(db); err != nil {
		log().Warn("non-essential index creation failed", zap.Error(err))
	}

	return nil
}

func verifyJobColumns(db *sql.DB) error {
	rows, err := db.Query("PRAGMA table_info(jobs)")
	if err != nil {
		return fmt.Errorf("introspecting jobs table: %w", err)
	}
	defer func() { _ = rows.Close() }()

	present := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scanning table_info: %w", err)
		}
		present[name] = true
	}

	var missing []string
	for _, col := range requiredJobColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("jobs table missing required columns: %v", missing)
	}
	return nil
}

func ensureNonEssentialIndex(db *sql.DB) error {
	_, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_jobs_last_update ON jobs(last_update)")
	return err
}

// MigrationStatus represents the current migration status.
type MigrationStatus struct {
	Version uint
	Dirty   bool
}

// GetMigrationStatus returns the current migration status.
func GetMigrationStatus(db *sql.DB) (*MigrationStatus, error) {
	m, err := newMigrate(db)
	if err != nil {
		return nil, err
	}

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return &MigrationStatus{Version: 0, Dirty: false}, nil
		}
		return nil, fmt.Errorf("failed to get migration version: %w", err)
	}

	return &MigrationStatus{Version: version, Dirty: dirty}, nil
}

// GetPendingMigrations returns the list of pending migration versions.
func GetPendingMigrations(db *sql.DB) ([]uint, error) {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := newMigrate(db)
	if err != nil {
		return nil, err
	}

	currentVersion, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("failed to get migration version: %w", err)
	}

	var pending []uint
	version, err := source.First()
	if err != nil {
		return pending, nil
	}

	for {
		if version > currentVersion {
			pending = append(pending, version)
		}
		nextVersion, err := source.Next(version)
		if err != nil {
			break
		}
		version = nextVersion
	}

	return pending, nil
}

// LogMigrationStatus logs the current migration status.
func LogMigrationStatus(db *sql.DB) {
	status, err := GetMigrationStatus(db)
	if err != nil {
		log().Warn("failed to get migration status", zap.Error(err))
		return
	}

	pending, err := GetPendingMigrations(db)
	if err != nil {
		log().Warn("failed to get pending migrations", zap.Error(err))
		return
	}

	log().Info("database migration status",
		zap.Uint("current_version", status.Version),
		zap.Bool("dirty", status.Dirty),
		zap.Int("pending_count", len(pending)),
	)
}
