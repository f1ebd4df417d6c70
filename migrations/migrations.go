// Package migrations holds the schema of the client's local state database:
// the key-value items that stand in for browser storage (tokens, settings,
// push subscription) and the offline asset caches. storage.NewSQLite applies
// it on every open; cmd/migrate drives it by hand.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Dialect is the goose dialect of the state database.
const Dialect = "sqlite3"

// FS is the set of goose SQL files, applied in file name order.
//
//go:embed *.sql
var FS embed.FS

// Setup points goose at FS and the SQLite dialect.
func Setup() error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect(Dialect); err != nil {
		return fmt.Errorf("goose dialect %s: %w", Dialect, err)
	}
	return nil
}

// Run brings db up to the newest schema version without logging.
func Run(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	if err := Setup(); err != nil {
		return err
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}
	return nil
}
