package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neilberkman/healthprep/internal/core/models"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// timestamp formats accepted when reading back DATETIME columns
var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

// fixed width so that text ordering matches time ordering
const storedLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(storedLayout)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	for _, format := range timeFormats {
		if t, err := time.Parse(format, s.String); err == nil {
			return t
		}
	}
	return time.Time{}
}

// StartRun inserts a run in the running state. A missing RunID is generated.
func (db *DB) StartRun(run *models.Run) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.ProgressMode == "" {
		run.ProgressMode = "count"
	}
	run.Status = models.RunRunning
	if err := run.Validate(); err != nil {
		return err
	}

	res, err := db.conn.Exec(`
		INSERT INTO runs (run_id, source_path, source_size, output_dir, progress_mode, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.SourcePath, run.SourceSize, run.OutputDir, run.ProgressMode, formatTime(run.StartedAt), string(run.Status))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	run.ID, err = res.LastInsertId()
	return err
}

// FinishRun stores the terminal status, tallies and per-table counts of a run
func (db *DB) FinishRun(run *models.Run) error {
	if run.ID == 0 {
		return fmt.Errorf("finish run %s: not started", run.RunID)
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	if err := run.Validate(); err != nil {
		return err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var errMsg interface{}
	if run.ErrorMessage != "" {
		errMsg = run.ErrorMessage
	}
	_, err = tx.Exec(`
		UPDATE runs
		SET finished_at = ?, status = ?, elements_read = ?, records_routed = ?,
			records_skipped = ?, error_message = ?
		WHERE id = ?
	`, formatTime(run.FinishedAt), string(run.Status), run.ElementsRead, run.RecordsRouted,
		run.RecordsSkipped, errMsg, run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	for _, c := range run.Categories {
		_, err = tx.Exec(`
			INSERT INTO run_categories (run_id, category, rows_written)
			VALUES (?, ?, ?)
			ON CONFLICT(run_id, category) DO UPDATE SET rows_written = excluded.rows_written
		`, run.ID, string(c.Category), c.Rows)
		if err != nil {
			return fmt.Errorf("upsert category %s: %w", c.Category, err)
		}
	}

	for _, c := range run.Counts {
		_, err = tx.Exec(`
			INSERT INTO run_type_counts (run_id, type_key, record_count, min_date, max_date)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(run_id, type_key) DO UPDATE SET
				record_count = excluded.record_count,
				min_date = excluded.min_date,
				max_date = excluded.max_date
		`, run.ID, c.Key, c.Count, formatTime(c.MinDate), formatTime(c.MaxDate))
		if err != nil {
			return fmt.Errorf("upsert count %s: %w", c.Key, err)
		}
	}

	return tx.Commit()
}

const runColumns = `
	id, run_id, source_path, source_size, output_dir, progress_mode, started_at,
	finished_at, status, elements_read, records_routed, records_skipped, error_message`

func scanRun(scan func(dest ...interface{}) error) (models.Run, error) {
	var r models.Run
	var started, finished, errMsg sql.NullString
	var status string
	err := scan(&r.ID, &r.RunID, &r.SourcePath, &r.SourceSize, &r.OutputDir, &r.ProgressMode,
		&started, &finished, &status, &r.ElementsRead, &r.RecordsRouted, &r.RecordsSkipped, &errMsg)
	if err != nil {
		return r, err
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseTime(finished)
	r.Status = models.RunStatus(status)
	r.ErrorMessage = errMsg.String
	return r, nil
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all runs.
func (db *DB) ListRuns(limit int) ([]models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []models.Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun loads a run with its category and type counts
func (db *DB) GetRun(runID string) (*models.Run, error) {
	r, err := scanRun(db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	catRows, err := db.conn.Query(`
		SELECT category, rows_written FROM run_categories
		WHERE run_id = ? ORDER BY category
	`, r.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = catRows.Close() }()
	for catRows.Next() {
		var c models.CategoryCount
		var cat string
		if err := catRows.Scan(&cat, &c.Rows); err != nil {
			return nil, err
		}
		c.Category = models.Category(cat)
		r.Categories = append(r.Categories, c)
	}
	if err := catRows.Err(); err != nil {
		return nil, err
	}

	countRows, err := db.conn.Query(`
		SELECT type_key, record_count, min_date, max_date FROM run_type_counts
		WHERE run_id = ? ORDER BY type_key
	`, r.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = countRows.Close() }()
	for countRows.Next() {
		var c models.TypeCount
		var lo, hi sql.NullString
		if err := countRows.Scan(&c.Key, &c.Count, &lo, &hi); err != nil {
			return nil, err
		}
		c.MinDate = parseTime(lo)
		c.MaxDate = parseTime(hi)
		r.Counts = append(r.Counts, c)
	}
	return &r, countRows.Err()
}

// DeleteRun removes a run and, through cascade, its counts
func (db *DB) DeleteRun(runID string) error {
	res, err := db.conn.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}
