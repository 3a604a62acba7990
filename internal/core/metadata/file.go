package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileName is the well-known name of the metadata file inside the output directory.
// Its presence means preprocessing completed at least once.
const FileName = "metadata.json"

// ErrNotProcessed is returned by Load when no completed run has written metadata.
var ErrNotProcessed = errors.New("processed data not found")

// RunMetadata is the end-of-run descriptor read by downstream consumers.
type RunMetadata struct {
	LastProcessed string               `json:"last_processed"`
	DataTypes     []string             `json:"data_types"`
	RecordCounts  map[string]int       `json:"record_counts"`
	DataRanges    map[string]DateRange `json:"data_ranges"`
}

// DateRange holds ISO-8601 bounds; nil marshals as null.
type DateRange struct {
	MinDate *string `json:"min_date"`
	MaxDate *string `json:"max_date"`
}

// Min parses MinDate. ok is false when the bound is null or malformed.
func (r DateRange) Min() (time.Time, bool) { return parseDate(r.MinDate) }

// Max parses MaxDate. ok is false when the bound is null or malformed.
func (r DateRange) Max() (time.Time, bool) { return parseDate(r.MaxDate) }

// LastProcessedTime parses LastProcessed as local wall-clock time.
func (m *RunMetadata) LastProcessedTime() (time.Time, bool) {
	for _, layout := range []string{LastProcessedLayout, DateLayout, time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, m.LastProcessed, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseDate(s *string) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(DateLayout, *s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Path returns the metadata file location for an output directory.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Write stores md in dir. The file is written to a temporary name and renamed into
// place, so readers never observe a partial document.
func Write(dir string, md *RunMetadata) (err error) {
	tmp, err := os.CreateTemp(dir, ".metadata-*.json")
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(0644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set metadata permissions: %w", err)
	}

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(md); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close metadata file: %w", err)
	}
	if err := os.Rename(tmp.Name(), Path(dir)); err != nil {
		return fmt.Errorf("failed to move metadata into place: %w", err)
	}
	return nil
}

// Load reads the metadata file from dir.
func Load(dir string) (*RunMetadata, error) {
	data, err := os.ReadFile(Path(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotProcessed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var md RunMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &md, nil
}

// Remove deletes the metadata file so downstream consumers treat the directory as
// not processed.
func Remove(dir string) error {
	err := os.Remove(Path(dir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
