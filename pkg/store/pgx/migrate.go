package pgx

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/OFFIS-RIT/ontograph/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// DefaultMigrationsDir is where the schema migrations live relative to the
// working directory of the binaries.
const DefaultMigrationsDir = "migrations"

// Migrate applies all pending up migrations from dir to the database at
// databaseURL. An already current schema is not an error.
func Migrate(databaseURL, dir string) error {
	if dir == "" {
		dir = DefaultMigrationsDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve migrations dir: %w", err)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(abs), "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("[Store] Schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to migrate: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	logger.Info("[Store] Migrated schema", "version", version, "dirty", dirty)
	return nil
}
