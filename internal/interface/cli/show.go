package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/healthprep/internal/core/metadata"
	"github.com/neilberkman/healthprep/internal/core/tables"
)

var (
	showSince string
	showUntil string
	showLimit int
	showDir   string
)

var showCmd = &cobra.Command{
	Use:   "show <category>",
	Short: "Print rows of a processed table",
	Long: `Print rows of one category table, e.g. heart_rate or workouts.

--since and --until take dates (2024-03-01) or phrases like "last week" and
"3 days ago".`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringVar(&showSince, "since", "", "Only rows starting at or after this date")
	showCmd.Flags().StringVar(&showUntil, "until", "", "Only rows starting at or before this date")
	showCmd.Flags().IntVarP(&showLimit, "limit", "n", 20, "Maximum rows to print (0 for all)")
	showCmd.Flags().StringVarP(&showDir, "output", "o", "", "Processed data directory (default from config)")
}

func runShow(cmd *cobra.Command, args []string) error {
	cat, err := tables.ParseCategory(args[0])
	if err != nil {
		return err
	}

	now := time.Now()
	var since, until time.Time
	if showSince != "" {
		t, ok := parseDate(showSince, now)
		if !ok {
			return fmt.Errorf("cannot parse --since %q", showSince)
		}
		since = t
	}
	if showUntil != "" {
		t, ok := parseDate(showUntil, now)
		if !ok {
			return fmt.Errorf("cannot parse --until %q", showUntil)
		}
		until = t
	}

	dir := showDir
	if dir == "" {
		dir = cfg.OutputDir
	}

	tbl, err := tables.Open(dir, cat, tables.WithRange(since, until))
	if errors.Is(err, metadata.ErrNotProcessed) {
		return fmt.Errorf("no processed data in %s; run `healthprep process` first", dir)
	}
	if err != nil {
		return err
	}
	defer func() { _ = tbl.Close() }()

	if len(tbl.Columns) == 0 {
		fmt.Printf("No %s records\n", cat)
		return nil
	}
	fmt.Println(headerStyle.Render(strings.Join(tbl.Columns, "  ")))

	shown := 0
	for showLimit == 0 || shown < showLimit {
		row, err := tbl.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(row.Values(), "  "))
		shown++
	}

	fmt.Println(metaStyle.Render(fmt.Sprintf("%s rows shown", humanize.Comma(int64(shown)))))
	return nil
}
