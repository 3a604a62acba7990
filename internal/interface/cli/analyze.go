package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/healthprep/internal/core/analyze"
)

var analyzeOut string

var analyzeCmd = &cobra.Command{
	Use:   "analyze [export.xml]",
	Short: "Survey the structure of an export",
	Long: `Count every Record type, Workout and ActivitySummary in the export, list the
attributes each element carries and the days they span. Nothing is routed; the
report is written as JSON.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&analyzeOut, "out", analyze.FileName, "Report path")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	input := cfg.Input
	if len(args) > 0 {
		input = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Analyzing %s...\n", input)
	rep, err := analyze.Analyze(ctx, input)
	if err != nil {
		return err
	}
	if err := rep.Write(analyzeOut); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(okStyle.Render("Analysis complete!") + " Results saved to " + analyzeOut)
	fmt.Println()
	fmt.Println(headerStyle.Render("Record Types and Counts:"))
	for _, tc := range rep.Top() {
		line := fmt.Sprintf("%s: %s", tc.Type, humanize.Comma(int64(tc.Count)))
		if r, ok := rep.DateRanges[tc.Type]; ok {
			line += metaStyle.Render(fmt.Sprintf("  (%s to %s)", *r.Min, *r.Max))
		}
		fmt.Println(line)
	}
	fmt.Printf("\nTotal: %s elements\n", humanize.Comma(int64(rep.Total())))
	return nil
}
