package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neilberkman/healthprep/internal/core/daemon"
	"github.com/neilberkman/healthprep/internal/core/db"
	"github.com/neilberkman/healthprep/internal/core/importer"
	"github.com/neilberkman/healthprep/internal/core/metrics"
)

var watchSettle time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [export.xml]",
	Short: "Reprocess whenever a new export arrives",
	Long: `Watch the export file and rebuild the output directory from scratch each time
it is replaced, once it has stopped changing for the settle period.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addProcessFlags(watchCmd)
	watchCmd.Flags().DurationVar(&watchSettle, "settle", daemon.DefaultSettle, "Quiet period before processing")
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := resolveProcess(cmd, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder importer.RunRecorder
	if c.Catalog {
		database, err := db.New(dbPath)
		if err != nil {
			logger.Printf("Warning: run catalog unavailable: %v", err)
		} else {
			defer func() { _ = database.Close() }()
			recorder = database
		}
	}

	run := func(ctx context.Context) error {
		// each export is a full snapshot, so rebuild rather than append
		opts := []importer.Option{
			importer.WithLogger(logger),
			importer.WithBatchSize(c.BatchSize),
			importer.WithProgressMode(importer.ProgressNone),
			importer.WithClean(true),
		}
		if recorder != nil {
			opts = append(opts, importer.WithRecorder(recorder))
		}
		var m *metrics.Metrics
		if c.MetricsFile != "" {
			m = metrics.New()
			opts = append(opts, importer.WithMetrics(m))
		}

		res, err := importer.New(opts...).Run(ctx, c.Input, c.OutputDir, nil)
		if m != nil {
			if werr := m.WriteTextfile(c.MetricsFile); werr != nil {
				logger.Printf("Warning: failed to write metrics: %v", werr)
			}
		}
		if err != nil {
			return err
		}
		renderSummary(os.Stdout, res, c.OutputDir)
		return nil
	}

	w, err := daemon.NewWatcher(c.Input, run, watchSettle, logger)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Watching for new exports") + metaStyle.Render(" (Ctrl-C to stop)"))
	return w.Start(ctx)
}
