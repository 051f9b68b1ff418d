package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/banshee-data/lidar2d-fusion/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrateLogger routes golang-migrate's own log lines through the same
// indirection the rest of this package uses, mirroring the teacher's
// migrateLogger.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[store/sqlite migrate] "+format, v...)
}
func (migrateLogger) Verbose() bool { return false }

// applyMigrations brings db up to the latest embedded schema version.
func applyMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("store/sqlite: open embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("store/sqlite: sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("store/sqlite: new migrate instance: %w", err)
	}
	m.Log = migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store/sqlite: migrate up: %w", err)
	}
	return nil
}
