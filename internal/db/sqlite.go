package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/neboloop/bingus/internal/db/migrations"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/neboloop/bingus/internal/logging"
)

// Open opens the SQLite database at path, runs migrations, and returns
// the handle. ":memory:" is accepted for tests.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	// synchronous(FULL): an append must survive a crash once it returns.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: every write is serialized through it, and an
	// in-memory database would otherwise be per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logging.Infof("SQLite database initialized at %s", path)
	return db, nil
}
