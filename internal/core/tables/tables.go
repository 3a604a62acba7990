// Package tables reads processed category tables back. Tables are only trusted once
// metadata.json exists; an interrupted run leaves tables without it.
package tables

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/neilberkman/healthprep/internal/core/classify"
	"github.com/neilberkman/healthprep/internal/core/metadata"
	"github.com/neilberkman/healthprep/internal/core/models"
)

// ErrUnknownCategory is returned for a name outside the table taxonomy.
var ErrUnknownCategory = errors.New("unknown category")

// LoadMetadata returns the run metadata of dir, or metadata.ErrNotProcessed.
func LoadMetadata(dir string) (*metadata.RunMetadata, error) {
	return metadata.Load(dir)
}

// ParseCategory validates a table name such as "heart_rate".
func ParseCategory(name string) (models.Category, error) {
	for _, cat := range classify.Default().Categories() {
		if string(cat) == name {
			return cat, nil
		}
	}
	return models.CategoryUnclassified, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
}

// Table streams the rows of one category table.
type Table struct {
	Category models.Category
	Columns  []string

	f       *os.File
	r       *csv.Reader
	index   map[string]int
	since   time.Time
	until   time.Time
	line    int
	workout bool
}

type Option func(*Table)

// WithRange keeps rows whose start date is within [since, until]. Zero bounds are open.
func WithRange(since, until time.Time) Option {
	return func(t *Table) {
		t.since = since
		t.until = until
	}
}

// Open opens the table for cat under dir. A category that never received a row
// yields an empty table.
func Open(dir string, cat models.Category, opts ...Option) (*Table, error) {
	if _, err := ParseCategory(string(cat)); err != nil {
		return nil, err
	}
	if _, err := metadata.Load(dir); err != nil {
		return nil, err
	}

	t := &Table{
		Category: cat,
		workout:  cat == models.CategoryWorkouts,
	}
	for _, opt := range opts {
		opt(t)
	}

	f, err := os.Open(filepath.Join(dir, cat.FileName()))
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cat, err)
	}

	r := csv.NewReader(f)
	r.ReuseRecord = true
	header, err := r.Read()
	if err == io.EOF {
		return t, f.Close()
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read %s header: %w", cat, err)
	}

	t.Columns = append([]string(nil), header...)
	t.index = make(map[string]int, len(header))
	for i, col := range t.Columns {
		t.index[col] = i
	}
	if _, ok := t.index["date"]; !ok {
		_ = f.Close()
		return nil, fmt.Errorf("%s: missing date column", cat)
	}

	t.f = f
	t.r = r
	t.line = 1
	return t, nil
}

// HasColumn reports whether the table carries col, e.g. metric_type.
func (t *Table) HasColumn(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Next returns the next row in range, or io.EOF.
func (t *Table) Next() (models.Row, error) {
	if t.r == nil {
		return nil, io.EOF
	}
	for {
		rec, err := t.r.Read()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%s: %w", t.Category, err)
		}
		t.line++

		var row models.Row
		var start time.Time
		if t.workout {
			w, err := t.parseWorkout(rec)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %w", t.Category, t.line, err)
			}
			row, start = w, w.Date
		} else {
			s, err := t.parseSample(rec)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %w", t.Category, t.line, err)
			}
			row, start = s, s.Date
		}

		if !t.since.IsZero() && start.Before(t.since) {
			continue
		}
		if !t.until.IsZero() && start.After(t.until) {
			continue
		}
		return row, nil
	}
}

// ReadAll drains the table.
func (t *Table) ReadAll() ([]models.Row, error) {
	var rows []models.Row
	for {
		row, err := t.Next()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}

func (t *Table) Close() error {
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f, t.r = nil, nil
	return err
}

func (t *Table) field(rec []string, col string) string {
	i, ok := t.index[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func (t *Table) parseSample(rec []string) (*models.Sample, error) {
	date, err := parseTime(t.field(rec, "date"))
	if err != nil {
		return nil, err
	}
	if date.IsZero() {
		return nil, errors.New("empty date")
	}
	end, err := parseTime(t.field(rec, "endDate"))
	if err != nil {
		return nil, err
	}
	value, err := parseFloat(t.field(rec, "value"))
	if err != nil {
		return nil, err
	}
	return &models.Sample{
		Date:       date,
		EndDate:    end,
		Value:      value,
		Unit:       t.field(rec, "unit"),
		Source:     t.field(rec, "source"),
		MetricType: t.field(rec, "metric_type"),
	}, nil
}

func (t *Table) parseWorkout(rec []string) (*models.Workout, error) {
	date, err := parseTime(t.field(rec, "date"))
	if err != nil {
		return nil, err
	}
	end, err := parseTime(t.field(rec, "endDate"))
	if err != nil {
		return nil, err
	}
	w := &models.Workout{
		Type:    t.field(rec, "type"),
		Date:    date,
		EndDate: end,
		Source:  t.field(rec, "source"),
	}
	if w.Duration, err = parseFloat(t.field(rec, "duration")); err != nil {
		return nil, err
	}
	if w.Distance, err = parseFloat(t.field(rec, "distance")); err != nil {
		return nil, err
	}
	if w.Energy, err = parseFloat(t.field(rec, "energy")); err != nil {
		return nil, err
	}
	return w, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(models.TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", s)
	}
	return t, nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return v, nil
}
