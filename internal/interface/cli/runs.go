package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/healthprep/internal/core/db"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	Long: `List processing runs from the catalog, newest first.

Examples:
  healthprep runs
  healthprep runs --limit 5
  healthprep runs show 3f1c2d9e
  healthprep runs delete 3f1c2d9e`,
	Args: cobra.NoArgs,
	RunE: runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show tables and record counts of one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Remove a run from the catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsShowCmd, runsDeleteCmd)
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to display")
}

func openCatalog() (*db.DB, error) {
	database, err := db.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// resolveRunID expands a unique prefix of a run ID
func resolveRunID(database *db.DB, prefix string) (string, error) {
	runs, err := database.ListRuns(0)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, r := range runs {
		if r.RunID == prefix {
			return r.RunID, nil
		}
		if strings.HasPrefix(r.RunID, prefix) {
			matches = append(matches, r.RunID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", db.ErrRunNotFound, prefix)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("run ID %q is ambiguous (%d matches)", prefix, len(matches))
}

func runRunsList(cmd *cobra.Command, args []string) error {
	database, err := openCatalog()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	runs, err := database.ListRuns(runsLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded. Run 'healthprep process' to create one.")
		return nil
	}

	fmt.Printf("Showing %d run(s)\n\n", len(runs))
	for i, r := range runs {
		status := string(r.Status)
		fmt.Printf("[%d] %s  %s\n", i+1, r.RunID, statusStyle(status).Render(status))
		fmt.Printf("    Source:  %s (%s)\n", r.SourcePath, humanize.Bytes(uint64(r.SourceSize)))
		fmt.Printf("    Output:  %s\n", r.OutputDir)
		fmt.Printf("    Records: %s routed, %s skipped of %s elements\n",
			humanize.Comma(int64(r.RecordsRouted)),
			humanize.Comma(int64(r.RecordsSkipped)),
			humanize.Comma(int64(r.ElementsRead)))
		fmt.Printf("    Started: %s\n", formatTimestamp(r.StartedAt))
		if d := r.Duration(); d > 0 {
			fmt.Printf("    Took:    %s\n", d.Round(time.Millisecond))
		}
		if r.ErrorMessage != "" {
			fmt.Printf("    Error:   %s\n", truncate(r.ErrorMessage, 80))
		}
		fmt.Println()
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	database, err := openCatalog()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	id, err := resolveRunID(database, args[0])
	if err != nil {
		return err
	}
	run, err := database.GetRun(id)
	if err != nil {
		return err
	}

	status := string(run.Status)
	fmt.Println(titleStyle.Render("Run "+run.RunID) + "  " + statusStyle(status).Render(status))
	fmt.Printf("Source:   %s\n", run.SourcePath)
	fmt.Printf("Output:   %s\n", run.OutputDir)
	fmt.Printf("Progress: %s\n", run.ProgressMode)
	fmt.Printf("Started:  %s\n", formatTimestamp(run.StartedAt))
	if run.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", run.ErrorMessage)
	}

	if len(run.Categories) > 0 {
		fmt.Println()
		fmt.Println(headerStyle.Render("Rows written:"))
		for _, c := range run.Categories {
			fmt.Printf("  %-26s %s\n", c.Category, humanize.Comma(int64(c.Rows)))
		}
	}
	if len(run.Counts) > 0 {
		fmt.Println()
		fmt.Println(headerStyle.Render("Record counts:"))
		for _, c := range run.Counts {
			line := fmt.Sprintf("  %s: %s", c.Key, humanize.Comma(int64(c.Count)))
			if !c.MinDate.IsZero() {
				line += metaStyle.Render(fmt.Sprintf("  %s to %s",
					c.MinDate.Format("2006-01-02"), c.MaxDate.Format("2006-01-02")))
			}
			fmt.Println(line)
		}
	}
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	database, err := openCatalog()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	id, err := resolveRunID(database, args[0])
	if err != nil {
		return err
	}
	if err := database.DeleteRun(id); err != nil {
		return err
	}
	fmt.Printf("Deleted run %s\n", id)
	return nil
}

// truncate shortens long single-line text for display
func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// formatTimestamp formats a timestamp in a human-friendly way
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	local := t.Local()
	if time.Since(t) < 7*24*time.Hour {
		return fmt.Sprintf("%s (%s)", local.Format("Mon 3:04 PM"), humanize.Time(t))
	}
	return local.Format("Jan 2, 2006 3:04 PM")
}
