package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/threadline-backend/pkg/config"
)

const (
	DefaultDir       = "pkg/migrate/migrations"
	DefaultSQLiteDir = "pkg/migrate/migrations_sqlite"
)

// Postgres and SQLite keep separate, paired migration trees; SQLite backs dev
// runs and tests.
type schema struct {
	dialect string
	dir     string
}

func schemaFor(driver string) schema {
	if isSQLite(driver) {
		return schema{dialect: "sqlite3", dir: DefaultSQLiteDir}
	}
	return schema{dialect: "postgres", dir: DefaultDir}
}

func DirForDriver(driver string) string {
	return schemaFor(driver).dir
}

func isSQLite(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case config.DriverSQLite, "sqlite3":
		return true
	}
	return false
}

// useDialect points goose's package-level dialect at driver. Goose keeps it as
// global state, so every entry point sets it before touching the database.
func useDialect(db *sql.DB, driver string) error {
	if db == nil {
		return errors.New("db is required")
	}
	if err := goose.SetDialect(schemaFor(driver).dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}

// Run executes a goose command (up, down, redo, reset, status) against dir.
// Status output goes to stdout.
func Run(ctx context.Context, db *sql.DB, driver, dir, command string, args ...string) error {
	if dir == "" {
		return errors.New("dir is required")
	}
	if err := useDialect(db, driver); err != nil {
		return err
	}
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// Version reports the highest applied migration.
func Version(ctx context.Context, db *sql.DB, driver string) (int64, error) {
	if err := useDialect(db, driver); err != nil {
		return 0, err
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// MigrateToVersion moves the schema up or down until targetVersion
// (YYYYMMDDHHMMSS) is the latest applied migration.
func MigrateToVersion(ctx context.Context, db *sql.DB, driver, dir, targetVersion string) error {
	target, err := strconv.ParseInt(strings.TrimSpace(targetVersion), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}
	current, err := Version(ctx, db, driver)
	if err != nil {
		return err
	}

	switch {
	case current < target:
		err = goose.UpToContext(ctx, db, dir, target)
	case current > target:
		err = goose.DownToContext(ctx, db, dir, target)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %d -> %d: %w", current, target, err)
	}
	return nil
}
