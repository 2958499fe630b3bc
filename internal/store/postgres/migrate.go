package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

type MigrationStatus struct {
	Version uint
	Dirty   bool
}

// Migrate applies the embedded schema migrations. steps == 0 means all the way
// in the given direction. It opens its own connection since the migrate driver
// closes the database it is handed.
func Migrate(databaseURL string, direction string, steps int) (MigrationStatus, error) {
	m, err := newMigrator(databaseURL)
	if err != nil {
		return MigrationStatus{}, err
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "status":
	default:
		return MigrationStatus{}, fmt.Errorf("unsupported direction %q (use up|down|status)", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationStatus{}, err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, err
	}
	return MigrationStatus{Version: version, Dirty: dirty}, nil
}

func newMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}
