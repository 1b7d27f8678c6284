package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/meilidash/internal/errors"
	"github.com/Iron-Ham/meilidash/internal/meili"
	"github.com/Iron-Ham/meilidash/internal/tui/styles"
)

var indexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "List indexes with their document counts",
	Long: `List every index of the instance, sorted by UID.

Examples:
  # Only indexes whose UID starts with "prod_"
  meilidash indexes --match 'prod_*'`,
	Args: cobra.NoArgs,
	RunE: runIndexes,
}

var (
	indexesMatch string
)

func init() {
	indexesCmd.Flags().StringVarP(&indexesMatch, "match", "m", "", "glob pattern the index UID must match")
	rootCmd.AddCommand(indexesCmd)
}

func runIndexes(cmd *cobra.Command, args []string) error {
	var matcher glob.Glob
	if indexesMatch != "" {
		g, err := glob.Compile(indexesMatch)
		if err != nil {
			return errors.NewValidationError("invalid --match pattern").
				WithField("match").
				WithValue(indexesMatch).
				WithCause(err)
		}
		matcher = g
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	all, err := a.client.ListIndexes(ctx)
	if err != nil {
		return err
	}
	indexes := filterIndexes(all, matcher)
	if len(indexes) == 0 {
		fmt.Fprintln(a.out, "No indexes found")
		return nil
	}

	stats, err := a.client.GetStats(ctx)
	if err != nil {
		a.logger.Warn("failed to load stats", "error", err.Error())
	}

	rows := make([][]string, 0, len(indexes))
	for _, idx := range indexes {
		docs := "-"
		if s, ok := stats.Indexes[idx.UID]; ok {
			docs = strconv.FormatInt(s.NumberOfDocuments, 10)
			if s.IsIndexing {
				docs += " (indexing)"
			}
		}
		primaryKey := idx.PrimaryKey
		if primaryKey == "" {
			primaryKey = "-"
		}
		rows = append(rows, []string{idx.UID, primaryKey, docs, idx.UpdatedAt.Format("2006-01-02 15:04")})
	}

	fmt.Fprint(a.out, renderTable([]string{"UID", "PRIMARY KEY", "DOCUMENTS", "UPDATED"}, rows))
	return nil
}

func filterIndexes(all []meili.Index, matcher glob.Glob) []meili.Index {
	if matcher == nil {
		return all
	}
	var out []meili.Index
	for _, idx := range all {
		if matcher.Match(idx.UID) {
			out = append(out, idx)
		}
	}
	return out
}

// indexUIDs returns the UIDs of all, making sure current is included.
func indexUIDs(all []meili.Index, current string) []string {
	uids := make([]string, 0, len(all)+1)
	found := false
	for _, idx := range all {
		uids = append(uids, idx.UID)
		if idx.UID == current {
			found = true
		}
	}
	if !found {
		uids = append([]string{current}, uids...)
	}
	return uids
}

// renderTable lays rows out in columns padded to the widest cell. Widths are
// measured in terminal cells.
func renderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = ansi.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], ansi.StringWidth(cell))
		}
	}

	var b strings.Builder
	writeRow := func(cells []string, style func(string) string) {
		for i, cell := range cells {
			pad := widths[i] - ansi.StringWidth(cell)
			b.WriteString(style(cell))
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", pad+2))
			}
		}
		b.WriteString("\n")
	}

	writeRow(header, func(s string) string { return styles.TableHeader.Render(s) })
	for _, row := range rows {
		writeRow(row, func(s string) string { return s })
	}
	return b.String()
}
