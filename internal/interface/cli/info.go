package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/healthprep/internal/core/classify"
	"github.com/neilberkman/healthprep/internal/core/metadata"
	"github.com/neilberkman/healthprep/internal/core/tables"
)

var infoDir string

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show what the last completed run produced",
	Long: `Read metadata.json from the output directory and list record counts, date
ranges and table sizes. Fails if preprocessing has not completed.`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().StringVarP(&infoDir, "output", "o", "", "Processed data directory (default from config)")
}

func processedDir() string {
	if infoDir != "" {
		return infoDir
	}
	return cfg.OutputDir
}

func runInfo(cmd *cobra.Command, args []string) error {
	dir := processedDir()
	md, err := tables.LoadMetadata(dir)
	if errors.Is(err, metadata.ErrNotProcessed) {
		return fmt.Errorf("no processed data in %s; run `healthprep process` first", dir)
	}
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Processed data: " + dir))
	if t, ok := md.LastProcessedTime(); ok {
		fmt.Printf("Last processed: %s (%s)\n", t.Format("Jan 2, 2006 3:04 PM"), humanize.Time(t))
	}
	fmt.Printf("Data types seen: %d\n\n", len(md.DataTypes))

	keys := make([]string, 0, len(md.RecordCounts))
	for k := range md.RecordCounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println(headerStyle.Render("Record counts:"))
	for _, k := range keys {
		line := fmt.Sprintf("  %s: %s", k, humanize.Comma(int64(md.RecordCounts[k])))
		r := md.DataRanges[k]
		if lo, ok := r.Min(); ok {
			hi, _ := r.Max()
			line += metaStyle.Render(fmt.Sprintf("  %s to %s", lo.Format("2006-01-02"), hi.Format("2006-01-02")))
		}
		fmt.Println(line)
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Tables:"))
	for _, cat := range classify.Default().Categories() {
		st, err := os.Stat(filepath.Join(dir, cat.FileName()))
		if err != nil {
			continue
		}
		fmt.Printf("  %-26s %s\n", cat.FileName(), humanize.Bytes(uint64(st.Size())))
	}
	return nil
}
