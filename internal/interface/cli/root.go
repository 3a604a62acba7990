package cli

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/neilberkman/healthprep/internal/core/config"
	"github.com/neilberkman/healthprep/internal/core/db"
	"github.com/neilberkman/healthprep/internal/core/importer"
)

// exit status for a run stopped by SIGINT/SIGTERM
const exitInterrupted = 130

var (
	dbPath      string
	configPath  string
	versionInfo string

	cfg    = config.Default()
	logger = log.New(os.Stderr, "", 0)
)

// SetVersion sets the version information from build-time ldflags
func SetVersion(version, commit, date string) {
	versionInfo = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	rootCmd.Version = versionInfo
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, importer.ErrInterrupted) {
			fmt.Fprintln(os.Stderr, warnStyle.Render("\nProcessing interrupted. Buffered records were saved; metadata.json was not written."))
		} else {
			fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, importer.ErrInterrupted):
		return exitInterrupted
	default:
		return 1
	}
}

var rootCmd = &cobra.Command{
	Use:   "healthprep",
	Short: "Health export preprocessor",
	Long: `healthprep - turn a health-data XML export into categorized CSV tables

Streams export.xml once in bounded memory, routes every Record and Workout
to a fixed set of category tables and writes metadata.json when done.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to processing with configured paths
		return runProcess(cmd, args)
	},
}

func loadConfig() error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logger.Printf("Warning: %v; using defaults", err)
	}
	return nil
}

func init() {
	defaultDB, err := db.DefaultPath()
	if err != nil {
		defaultDB = "runs.db"
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "Run catalog database path")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/healthprep/config.toml)")
	addProcessFlags(rootCmd)
}
