package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/meilidash/internal/meili"
	"github.com/Iron-Ham/meilidash/internal/tui/styles"
)

var statsCmd = &cobra.Command{
	Use:   "stats [index]",
	Short: "Show document and field statistics",
	Long: `Display document statistics.

With an index, shows its document count and how many documents contain
each field. Without one, shows the database size and the document count
of every index.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStats,
}

const (
	barWidth   = 30
	labelWidth = 24
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if len(args) == 1 {
		stats, err := a.client.GetIndexStats(ctx, args[0])
		if err != nil {
			return err
		}
		printIndexStats(a.out, args[0], stats)
		return nil
	}

	stats, err := a.client.GetStats(ctx)
	if err != nil {
		return err
	}
	printInstanceStats(a.out, stats)
	return nil
}

func printIndexStats(w io.Writer, index string, stats meili.IndexStats) {
	fmt.Fprintln(w, styles.Title.Render(strings.ToUpper(index)))
	fmt.Fprintf(w, "Documents: %d\n", stats.NumberOfDocuments)
	if stats.IsIndexing {
		fmt.Fprintln(w, styles.Warning.Render("Indexing in progress"))
	}

	fields := stats.SortedFields()
	if len(fields) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, styles.TableHeader.Render("FIELD DISTRIBUTION"))
	total := max(stats.NumberOfDocuments, 1)
	for _, f := range fields {
		fmt.Fprintln(w, barLine(f.Field, f.Count, total))
	}
}

func printInstanceStats(w io.Writer, stats meili.Stats) {
	fmt.Fprintln(w, styles.Title.Render("INSTANCE"))
	fmt.Fprintf(w, "Database size: %s\n", formatBytes(stats.DatabaseSize))
	if stats.LastUpdate != nil {
		fmt.Fprintf(w, "Last update:   %s\n", stats.LastUpdate.Format("2006-01-02 15:04:05"))
	}

	if len(stats.Indexes) == 0 {
		return
	}

	uids := make([]string, 0, len(stats.Indexes))
	var largest int64 = 1
	for uid, s := range stats.Indexes {
		uids = append(uids, uid)
		largest = max(largest, s.NumberOfDocuments)
	}
	sort.Strings(uids)

	fmt.Fprintln(w)
	fmt.Fprintln(w, styles.TableHeader.Render("DOCUMENTS PER INDEX"))
	for _, uid := range uids {
		fmt.Fprintln(w, barLine(uid, stats.Indexes[uid].NumberOfDocuments, largest))
	}
}

// barLine renders "label  ████░░░░  count" with the bar scaled to total.
func barLine(label string, count, total int64) string {
	filled := 0
	if total > 0 {
		filled = int(count * barWidth / total)
	}
	filled = min(max(filled, 0), barWidth)
	if count > 0 && filled == 0 {
		filled = 1
	}

	label = ansi.Truncate(label, labelWidth, "…")
	label += strings.Repeat(" ", labelWidth-ansi.StringWidth(label))

	bar := styles.Bar.Render(strings.Repeat("█", filled)) +
		styles.BarTrack.Render(strings.Repeat("░", barWidth-filled))
	return fmt.Sprintf("%s  %s  %d", label, bar, count)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
