package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/neilberkman/healthprep/internal/core/models"
)

// Sink persists flushed batches. Append must write rows after any rows already
// written for the category and never rewrite them.
type Sink interface {
	Append(cat models.Category, header []string, rows [][]string) error
}

// CSVSink appends batches to <Dir>/<category>.csv.
type CSVSink struct {
	Dir string
}

// NewCSVSink returns a sink writing under dir. The directory must already exist.
func NewCSVSink(dir string) *CSVSink {
	return &CSVSink{Dir: dir}
}

// Path returns the table file for cat.
func (s *CSVSink) Path(cat models.Category) string {
	return filepath.Join(s.Dir, cat.FileName())
}

// Append writes rows to the category file, preceded by header only when the file
// does not exist yet.
func (s *CSVSink) Append(cat models.Category, header []string, rows [][]string) (err error) {
	if len(rows) == 0 {
		return nil
	}

	path := s.Path(cat)
	writeHeader := false
	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		writeHeader = true
	} else if statErr != nil {
		return fmt.Errorf("failed to stat %s: %w", path, statErr)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("failed to write header to %s: %w", path, err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write rows to %s: %w", path, err)
	}
	return nil
}

// Remove deletes the table file for cat if present.
func (s *CSVSink) Remove(cat models.Category) error {
	err := os.Remove(s.Path(cat))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
