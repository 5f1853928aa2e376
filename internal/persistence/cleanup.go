package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// ClearCatalog removes every catalog entry and returns how many were removed.
// Record files on disk are left alone.
func ClearCatalog(ctx context.Context, db *sql.DB) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("database is not initialized")
	}

	//goland:noinspection SqlWithoutWhere
	res, err := db.ExecContext(ctx, `DELETE FROM recordings;`)
	if err != nil {
		return 0, fmt.Errorf("clear recordings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count cleared recordings: %w", err)
	}

	return n, nil
}
