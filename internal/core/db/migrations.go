package db

import (
	"fmt"
)

// runMigrations applies database migrations for existing databases
func (db *DB) runMigrations() error {
	// Migration 1: record which progress mode a run used
	if err := db.migration001AddProgressMode(); err != nil {
		return fmt.Errorf("migration 001: %w", err)
	}

	return nil
}

// migration001AddProgressMode adds progress_mode to runs for catalogs created
// before byte-offset progress existed
func (db *DB) migration001AddProgressMode() error {
	var hasColumn bool
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info('runs')
		WHERE name='progress_mode'
	`).Scan(&hasColumn)
	if err != nil {
		return err
	}

	if !hasColumn {
		_, err = db.conn.Exec(`ALTER TABLE runs ADD COLUMN progress_mode TEXT NOT NULL DEFAULT 'count';`)
		if err != nil {
			return fmt.Errorf("add progress_mode column: %w", err)
		}
	}

	return nil
}
