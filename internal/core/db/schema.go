package db

func (db *DB) initSchema() error {
	schema := `
	-- One row per pipeline invocation
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT UNIQUE NOT NULL,
		source_path TEXT NOT NULL,
		source_size INTEGER DEFAULT 0,
		output_dir TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL DEFAULT 'running'
			CHECK(status IN ('running', 'success', 'interrupted', 'failed')),
		elements_read INTEGER DEFAULT 0,
		records_routed INTEGER DEFAULT 0,
		records_skipped INTEGER DEFAULT 0,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

	-- Rows appended per category table
	CREATE TABLE IF NOT EXISTS run_categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		category TEXT NOT NULL,
		rows_written INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE,
		UNIQUE(run_id, category)
	);

	CREATE INDEX IF NOT EXISTS idx_run_categories_run ON run_categories(run_id);

	-- Per identifier record counts and date ranges
	CREATE TABLE IF NOT EXISTS run_type_counts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		type_key TEXT NOT NULL,
		record_count INTEGER NOT NULL DEFAULT 0,
		min_date DATETIME,
		max_date DATETIME,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE,
		UNIQUE(run_id, type_key)
	);

	CREATE INDEX IF NOT EXISTS idx_run_type_counts_key ON run_type_counts(type_key);
	`

	_, err := db.conn.Exec(schema)
	return err
}
