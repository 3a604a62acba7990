package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultInput     = "apple_health_export/export.xml"
	DefaultOutputDir = "processed_data"
	DefaultBatchSize = 1000
	DefaultProgress  = "count"
)

// Progress modes
const (
	ProgressCount = "count"
	ProgressBytes = "bytes"
	ProgressNone  = "none"
)

type Config struct {
	Input       string // export.xml to process
	OutputDir   string // directory receiving category tables and metadata.json
	BatchSize   int
	Progress    string // count, bytes or none
	MetricsFile string // Prometheus textfile, empty disables
	Catalog     bool   // record runs in the SQLite catalog
}

// pointers distinguish an absent key from a zero value
type tomlConfig struct {
	Input       *string `toml:"input"`
	OutputDir   *string `toml:"output_dir"`
	BatchSize   *int    `toml:"batch_size"`
	Progress    *string `toml:"progress"`
	MetricsFile *string `toml:"metrics_file"`
	Catalog     *bool   `toml:"catalog"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Input:     DefaultInput,
		OutputDir: DefaultOutputDir,
		BatchSize: DefaultBatchSize,
		Progress:  DefaultProgress,
		Catalog:   true,
	}
}

// Path returns ~/.config/healthprep/config.toml
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "healthprep", "config.toml"), nil
}

// Load reads config from ~/.config/healthprep/. A missing file yields the
// defaults; an unreadable one yields the defaults and the decode error.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile overlays the TOML file at path onto the defaults
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err != nil {
		return cfg, nil
	}

	var tc tomlConfig
	if _, err := toml.DecodeFile(path, &tc); err != nil {
		return Default(), fmt.Errorf("parse %s: %w", path, err)
	}

	if tc.Input != nil && *tc.Input != "" {
		cfg.Input = *tc.Input
	}
	if tc.OutputDir != nil && *tc.OutputDir != "" {
		cfg.OutputDir = *tc.OutputDir
	}
	if tc.BatchSize != nil {
		if *tc.BatchSize <= 0 {
			return Default(), fmt.Errorf("parse %s: batch_size must be positive, got %d", path, *tc.BatchSize)
		}
		cfg.BatchSize = *tc.BatchSize
	}
	if tc.Progress != nil {
		mode := strings.ToLower(strings.TrimSpace(*tc.Progress))
		if err := ValidateProgress(mode); err != nil {
			return Default(), fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.Progress = mode
	}
	if tc.MetricsFile != nil {
		cfg.MetricsFile = *tc.MetricsFile
	}
	if tc.Catalog != nil {
		cfg.Catalog = *tc.Catalog
	}

	return cfg, nil
}

// ValidateProgress rejects unknown progress modes
func ValidateProgress(mode string) error {
	switch mode {
	case ProgressCount, ProgressBytes, ProgressNone:
		return nil
	}
	return fmt.Errorf("unknown progress mode %q (want count, bytes or none)", mode)
}
