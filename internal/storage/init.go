package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"

	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/*/*.sql
var migrationFS embed.FS

const migrationPath = "migrations"

// runMigrations applies the embedded migrations for dialect ("sqlite3" or
// "postgres") from migrations/<dir>.
func runMigrations(db *sql.DB, dialect, dir string) error {
	const op = "storage.migrations"

	goose.SetBaseFS(migrationFS)
	goose.SetLogger(log.StandardLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err := goose.Up(db, path.Join(migrationPath, dir))
	if err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			log.Debug("No migrations to apply.")
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	log.WithField("dialect", dialect).Info("Database migrations applied successfully.")
	return nil
}
