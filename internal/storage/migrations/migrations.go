// Package migrations embeds the goose migration set that materializes the
// schema from §3/§4.4 on host init only, transactionally, in filename order.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/memorall/core/internal/errkind"
)

//go:embed *.sql
var FS embed.FS

// Run applies every pending migration against db. Re-running is idempotent
// because goose records applied versions and skips them; the embedded .sql
// is not safe to apply twice by itself, since its CREATE TRIGGER statements
// have no IF NOT EXISTS guard.
func Run(db *sql.DB) error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return errkind.Wrap(errkind.SchemaMigrationFailed, "set dialect", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return errkind.Wrap(errkind.SchemaMigrationFailed, "apply migrations", err)
	}
	return nil
}

// Down rolls back the most recently applied migration. Nothing in this
// module calls it; the host's boot path only runs Run.
func Down(db *sql.DB) error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}
	return goose.Down(db, ".")
}
