package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/healthprep/internal/core/config"
	"github.com/neilberkman/healthprep/internal/core/db"
	"github.com/neilberkman/healthprep/internal/core/importer"
	"github.com/neilberkman/healthprep/internal/core/metrics"
)

type processFlags struct {
	input       string
	output      string
	batchSize   int
	progress    string
	metricsFile string
	clean       bool
	noCatalog   bool
}

var procFlags processFlags

var processCmd = &cobra.Command{
	Use:   "process [export.xml]",
	Short: "Convert an export into category tables",
	Long: `Stream export.xml into one CSV table per category under the output directory.

Rows are appended to existing tables; use --clean to start over. metadata.json is
written only after every table has been flushed, so its presence means the output
is complete. Ctrl-C saves buffered rows and exits with status 130.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
	addProcessFlags(processCmd)
}

func addProcessFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&procFlags.input, "input", "i", config.DefaultInput, "Export XML file")
	f.StringVarP(&procFlags.output, "output", "o", config.DefaultOutputDir, "Output directory")
	f.IntVar(&procFlags.batchSize, "batch-size", config.DefaultBatchSize, "Rows buffered per category before writing")
	f.StringVar(&procFlags.progress, "progress", config.DefaultProgress, "Progress display: count, bytes or none")
	f.StringVar(&procFlags.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile")
	f.BoolVar(&procFlags.clean, "clean", false, "Remove existing tables before processing")
	f.BoolVar(&procFlags.noCatalog, "no-catalog", false, "Do not record the run in the catalog")
}

// resolveProcess merges flags over the loaded config
func resolveProcess(cmd *cobra.Command, args []string) (config.Config, error) {
	c := *cfg
	f := cmd.Flags()
	if f.Changed("input") {
		c.Input = procFlags.input
	}
	if len(args) > 0 {
		c.Input = args[0]
	}
	if f.Changed("output") {
		c.OutputDir = procFlags.output
	}
	if f.Changed("batch-size") {
		if procFlags.batchSize <= 0 {
			return c, fmt.Errorf("--batch-size must be positive, got %d", procFlags.batchSize)
		}
		c.BatchSize = procFlags.batchSize
	}
	if f.Changed("progress") {
		c.Progress = strings.ToLower(procFlags.progress)
	}
	if err := config.ValidateProgress(c.Progress); err != nil {
		return c, err
	}
	if f.Changed("metrics-file") {
		c.MetricsFile = procFlags.metricsFile
	}
	if procFlags.noCatalog {
		c.Catalog = false
	}
	return c, nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	c, err := resolveProcess(cmd, args)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Processing health export"))
	fmt.Printf("Input:  %s\n", c.Input)
	fmt.Printf("Output: %s\n\n", c.OutputDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []importer.Option{
		importer.WithLogger(logger),
		importer.WithBatchSize(c.BatchSize),
		importer.WithProgressMode(importer.ProgressMode(c.Progress)),
		importer.WithClean(procFlags.clean),
	}

	if c.Catalog {
		database, err := db.New(dbPath)
		if err != nil {
			logger.Printf("Warning: run catalog unavailable: %v", err)
		} else {
			defer func() { _ = database.Close() }()
			opts = append(opts, importer.WithRecorder(database))
		}
	}

	var m *metrics.Metrics
	if c.MetricsFile != "" {
		m = metrics.New()
		opts = append(opts, importer.WithMetrics(m))
	}

	var progress importer.ProgressCallback
	if c.Progress != config.ProgressNone {
		progress = importer.NewProgressReporter(os.Stdout, c.Progress == config.ProgressBytes)
	}

	res, runErr := importer.New(opts...).Run(ctx, c.Input, c.OutputDir, progress)

	if m != nil {
		if err := m.WriteTextfile(c.MetricsFile); err != nil {
			logger.Printf("Warning: failed to write metrics: %v", err)
		}
	}

	if runErr != nil {
		return runErr
	}

	renderSummary(os.Stdout, res, c.OutputDir)
	return nil
}

func renderSummary(w io.Writer, res *importer.Result, outDir string) {
	line := strings.Repeat("-", 40)

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, okStyle.Render("✓ Preprocessing complete!"))
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, headerStyle.Render("Summary:"))
	_, _ = fmt.Fprintln(w, line)
	if len(res.Categories) == 0 {
		_, _ = fmt.Fprintln(w, "No records matched any category")
	}
	for _, c := range res.Categories {
		_, _ = fmt.Fprintf(w, "• %s: %s records\n", c.Category, humanize.Comma(int64(c.Rows)))
	}
	_, _ = fmt.Fprintln(w, line)

	if s := res.Skipped; s.Total() > 0 {
		_, _ = fmt.Fprintln(w, metaStyle.Render(fmt.Sprintf(
			"Skipped %s elements (no type: %s, bad start date: %s, unclassified: %s)",
			humanize.Comma(int64(s.Total())),
			humanize.Comma(int64(s.MissingType)),
			humanize.Comma(int64(s.BadDate)),
			humanize.Comma(int64(s.Unclassified)))))
	}
	if res.RunID != "" {
		_, _ = fmt.Fprintln(w, metaStyle.Render("Run ID: "+res.RunID))
	}
	_, _ = fmt.Fprintf(w, "Data saved in '%s' directory\n", outDir)
}
