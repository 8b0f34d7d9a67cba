package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/matheus3301/threadline/internal/store/migrations"
)

// ErrDirtySchema means a previous migration stopped halfway. The journal is
// a cache, so the fix is deleting cache.db.
var ErrDirtySchema = errors.New("journal schema is dirty")

// MigrateResult reports the schema version after Migrate.
type MigrateResult struct {
	Version uint
	// Changed is false when the schema was already current.
	Changed bool
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	drv, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		return nil, fmt.Errorf("migrate driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "sqlite3", drv)
}

// Migrate brings the journal schema up to date. A dirty schema is refused
// instead of retried.
func (db *DB) Migrate() (*MigrateResult, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}
	if _, dirty, err := m.Version(); err == nil && dirty {
		return nil, ErrDirtySchema
	}

	res := &MigrateResult{Changed: true}
	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		res.Changed = false
	case err != nil:
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	v, _, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	res.Version = v
	return res, nil
}
