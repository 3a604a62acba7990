package db

import (
	"database/sql"
	"time"
)

// Stats represents catalog statistics
type Stats struct {
	TotalRuns          int
	SuccessfulRuns     int
	InterruptedRuns    int
	FailedRuns         int
	TotalRowsWritten   int
	FirstRun           time.Time
	LastSuccess        time.Time
	BusiestCategory    string
	BusiestCategoryRow int
}

// GetStats returns aggregate statistics over all recorded runs
func (db *DB) GetStats() (*Stats, error) {
	stats := &Stats{}

	err := db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'interrupted' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM runs
	`).Scan(&stats.TotalRuns, &stats.SuccessfulRuns, &stats.InterruptedRuns, &stats.FailedRuns)
	if err != nil {
		return nil, err
	}

	err = db.QueryRow("SELECT COALESCE(SUM(rows_written), 0) FROM run_categories").Scan(&stats.TotalRowsWritten)
	if err != nil {
		return nil, err
	}

	if stats.TotalRuns == 0 {
		return stats, nil
	}

	var first, lastSuccess sql.NullString
	err = db.QueryRow("SELECT MIN(started_at) FROM runs").Scan(&first)
	if err != nil {
		return nil, err
	}
	stats.FirstRun = parseTime(first)

	err = db.QueryRow("SELECT MAX(finished_at) FROM runs WHERE status = 'success'").Scan(&lastSuccess)
	if err != nil {
		return nil, err
	}
	stats.LastSuccess = parseTime(lastSuccess)

	var busiest sql.NullString
	err = db.QueryRow(`
		SELECT category, SUM(rows_written) as total
		FROM run_categories
		GROUP BY category
		ORDER BY total DESC, category ASC
		LIMIT 1
	`).Scan(&busiest, &stats.BusiestCategoryRow)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if busiest.Valid {
		stats.BusiestCategory = busiest.String
	}

	return stats, nil
}
