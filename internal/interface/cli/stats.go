package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/healthprep/internal/core/db"
)

var statsLimit int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run history",
	Long: `Display statistics about recorded runs from the catalog database.

Shows run counts by status, rows written, the busiest table and recent runs.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().IntVarP(&statsLimit, "limit", "n", 10, "Recent runs to list")
}

func runStats(cmd *cobra.Command, args []string) error {
	database, err := db.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		_ = database.Close()
	}()

	stats, err := database.GetStats()
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	fmt.Println(titleStyle.Render("Run Statistics"))
	fmt.Println("==============")
	fmt.Println()
	fmt.Printf("Total Runs:        %d\n", stats.TotalRuns)
	fmt.Printf("  Successful:      %d\n", stats.SuccessfulRuns)
	fmt.Printf("  Interrupted:     %d\n", stats.InterruptedRuns)
	fmt.Printf("  Failed:          %d\n", stats.FailedRuns)
	fmt.Printf("Rows Written:      %s\n", humanize.Comma(int64(stats.TotalRowsWritten)))

	if stats.TotalRuns > 0 {
		fmt.Println()
		if !stats.FirstRun.IsZero() {
			fmt.Printf("First Run:         %s\n", stats.FirstRun.Local().Format("Jan 2, 2006 3:04 PM"))
		}
		if !stats.LastSuccess.IsZero() {
			fmt.Printf("Last Success:      %s\n", humanize.Time(stats.LastSuccess))
		}
		if stats.BusiestCategory != "" {
			fmt.Printf("Busiest Table:     %s (%s rows)\n", stats.BusiestCategory, humanize.Comma(int64(stats.BusiestCategoryRow)))
		}

		runs, err := database.ListRuns(statsLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		fmt.Println()
		fmt.Println(headerStyle.Render("Recent Runs:"))
		for _, r := range runs {
			status := string(r.Status)
			fmt.Printf("  %s  %-12s %-22s %s routed, %s skipped, %s\n",
				shortID(r.RunID),
				statusStyle(status).Render(status),
				humanize.Time(r.StartedAt),
				humanize.Comma(int64(r.RecordsRouted)),
				humanize.Comma(int64(r.RecordsSkipped)),
				r.Duration().Round(time.Millisecond))
		}
	}

	fmt.Println()
	if fileInfo, err := os.Stat(dbPath); err == nil {
		fmt.Printf("Database Location: %s\n", dbPath)
		fmt.Printf("Database Size:     %s\n", humanize.Bytes(uint64(fileInfo.Size())))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
