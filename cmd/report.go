package cmd

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/Siddhant-K-code/diffsets/pkg/document"
	"github.com/Siddhant-K-code/diffsets/pkg/types"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarise a difficulty set document",
	Long: `Prints the run metadata of a difficulty set document, set counts per
size and difficulty, and optionally a per-pool breakdown.

Example:
  diffsets report --file sets.json
  diffsets report --file sets.json --pools --color never`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringP("file", "f", "difficulty_sets.json", "difficulty set document")
	reportCmd.Flags().Bool("pools", false, "print one row per pool")
	reportCmd.Flags().String("color", "auto", "color output (auto, always, never)")
}

func runReport(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	perPool, _ := cmd.Flags().GetBool("pools")
	mode, _ := cmd.Flags().GetString("color")

	switch mode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	case "auto":
	default:
		return fmt.Errorf("invalid color mode %q: must be auto, always, or never", mode)
	}

	doc, err := document.ReadFile(path)
	if err != nil {
		return err
	}

	return writeReport(cmd.OutOrStdout(), doc, perPool)
}

func writeReport(w io.Writer, doc *document.Document, perPool bool) error {
	bold := color.New(color.Bold)
	summary := doc.Summarize()

	_, _ = bold.Fprintln(w, "Difficulty sets")
	if doc.RunID != "" {
		fmt.Fprintf(w, "  run:        %s\n", doc.RunID)
	}
	if doc.GeneratedAt != "" {
		fmt.Fprintf(w, "  generated:  %s\n", doc.GeneratedAt)
	}
	if doc.Strategy != "" {
		fmt.Fprintf(w, "  strategy:   %s (seed %d)\n", doc.Strategy, doc.Seed)
	}
	fmt.Fprintf(w, "  categories: %d\n", summary.Categories)
	fmt.Fprintf(w, "  pools:      %d\n", summary.Pools)
	fmt.Fprintf(w, "  sets:       %s\n", color.GreenString("%d", summary.Sets))
	fmt.Fprintln(w)

	if summary.Sets == 0 {
		color.New(color.FgYellow).Fprintln(w, "No sets in document.")
		return nil
	}

	keys := make([]types.Key, 0, len(summary.ByKey))
	for k := range summary.ByKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Size != keys[j].Size {
			return keys[i].Size < keys[j].Size
		}
		return keys[i].Difficulty < keys[j].Difficulty
	})

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{strconv.Itoa(k.Size), difficultyLabel(k.Difficulty), strconv.Itoa(summary.ByKey[k])})
	}
	if err := renderTable(w, []string{"size", "difficulty", "sets"}, rows); err != nil {
		return err
	}

	if !perPool {
		return nil
	}

	fmt.Fprintln(w)
	rows = rows[:0]
	for _, e := range doc.Entries() {
		rows = append(rows, poolRow(e))
	}
	return renderTable(w, []string{"category", "pool", "hard", "easy", "hard intra", "easy intra"}, rows)
}

func poolRow(e document.Entry) []string {
	var (
		counts = map[types.Difficulty]int{}
		sums   = map[types.Difficulty]float64{}
	)
	for _, s := range e.Pool.Sets {
		counts[s.Difficulty]++
		sums[s.Difficulty] += s.IntraMean
	}

	avg := func(d types.Difficulty) string {
		if counts[d] == 0 {
			return "-"
		}
		return strconv.FormatFloat(sums[d]/float64(counts[d]), 'f', 3, 64)
	}
	count := func(d types.Difficulty) string {
		if counts[d] == 0 {
			return color.YellowString("0")
		}
		return strconv.Itoa(counts[d])
	}

	return []string{e.Category, e.Pool.ID, count(types.Hard), count(types.Easy), avg(types.Hard), avg(types.Easy)}
}

func difficultyLabel(d types.Difficulty) string {
	if d == types.Hard {
		return color.RedString(string(d))
	}
	return color.CyanString(string(d))
}

func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{ShowHeader: tw.Off},
			},
		}),
	)

	table.Header(header)
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	return nil
}
