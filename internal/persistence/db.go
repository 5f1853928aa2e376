package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register sqlite driver
)

// catalogPragmas are applied once on the single catalog connection. The busy
// timeout lets a `list` run while a recording process inserts.
var catalogPragmas = []struct {
	stmt string
	what string
}{
	{stmt: `PRAGMA busy_timeout = 5000;`, what: "set busy timeout"},
	{stmt: `PRAGMA journal_mode = WAL;`, what: "set wal mode"},
	{stmt: `PRAGMA synchronous = NORMAL;`, what: "set synchronous mode"},
}

// Open opens (creating if needed) the recording catalog at path and brings
// its schema up to date.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one connection keeps pragmas in effect and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, p := range catalogPragmas {
		if _, err := db.ExecContext(ctx, p.stmt); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("%s: %w", p.what, err)
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}
