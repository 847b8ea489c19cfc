// Package ledger keeps a local record of issued invoices so an
// unchanged invoice is never renumbered or regenerated.
package ledger

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hourlog/invoicer/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var db *sql.DB

// Open opens the ledger database, creating the state directory if
// needed.
func Open() (*sql.DB, error) {
	if db != nil {
		return db, nil
	}

	if err := config.EnsureDirectories(); err != nil {
		return nil, err
	}

	path, err := config.LedgerPath()
	if err != nil {
		return nil, err
	}

	db, err = sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	return db, nil
}

// OpenAndMigrate opens the ledger and applies pending migrations.
func OpenAndMigrate() (*sql.DB, error) {
	database, err := Open()
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(); err != nil {
		return nil, err
	}
	return database, nil
}

// Close closes the ledger database.
func Close() error {
	if db != nil {
		err := db.Close()
		db = nil
		return err
	}
	return nil
}

// RunMigrations applies all pending schema migrations to the open
// ledger.
func RunMigrations() error {
	if db == nil {
		return fmt.Errorf("ledger not open")
	}
	return Migrate(db)
}

// Migrate applies all pending schema migrations to the given handle.
func Migrate(database *sql.DB) error {
	driver, err := sqlite3.WithInstance(database, &sqlite3.Config{})
	if err != nil {
		return err
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
