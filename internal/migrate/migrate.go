// Package migrate applies the schema migrations with goose. Each
// store backend has its own migration dir because the dialects differ
// in column types.
package migrate

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/pressly/goose/v3"
)

// DirFor returns the migrations directory for a store driver.
func DirFor(driver string) string {
	return filepath.Join("db", "migrations", driver)
}

// Run applies all pending migrations in dir to an already open handle.
func Run(db *sql.DB, driver, dir string) error {
	dialect := driver
	if driver == "sqlite" {
		dialect = "sqlite3"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
