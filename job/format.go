package job

import (
	"fmt"
	"html"
	"io"
	"strings"
	"text/tabwriter"

	"zipkit"
)

// entryRow is one printable row: a name plus whatever columns the
// caller supplies, kept generic so list and diff share one table
// renderer across all three OutputFormat variants.
type entryRow struct {
	cols []string
}

func writeTable(w io.Writer, format OutputFormat, header []string, rows []entryRow) error {
	switch format {
	case FormatCommas:
		return writeCommasTable(w, header, rows)
	case FormatHTML:
		return writeHTMLTable(w, header, rows)
	default:
		return writeTabsTable(w, header, rows)
	}
}

func writeTabsTable(w io.Writer, header []string, rows []entryRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r.cols, "\t"))
	}
	return tw.Flush()
}

func writeCommasTable(w io.Writer, header []string, rows []entryRow) error {
	if _, err := fmt.Fprintln(w, strings.Join(header, ",")); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := fmt.Fprintln(w, strings.Join(r.cols, ",")); err != nil {
			return err
		}
	}
	return nil
}

func writeHTMLTable(w io.Writer, header []string, rows []entryRow) error {
	if _, err := fmt.Fprintln(w, "<table>"); err != nil {
		return err
	}
	fmt.Fprint(w, "<tr>")
	for _, h := range header {
		fmt.Fprintf(w, "<th>%s</th>", html.EscapeString(h))
	}
	fmt.Fprintln(w, "</tr>")
	for _, r := range rows {
		fmt.Fprint(w, "<tr>")
		for _, c := range r.cols {
			fmt.Fprintf(w, "<td>%s</td>", html.EscapeString(c))
		}
		fmt.Fprintln(w, "</tr>")
	}
	_, err := fmt.Fprintln(w, "</table>")
	return err
}

// writeEntryTable renders a list job's filtered entries. In verbose mode
// an extra Perms column shows each entry's Entry.Mode() permission bits.
func writeEntryTable(w io.Writer, format OutputFormat, entries []*zipkit.Entry, verbose bool) error {
	header := []string{"Name", "Method", "Size", "Compressed", "CRC32", "Modified"}
	if verbose {
		header = append(header, "Perms")
	}
	rows := make([]entryRow, 0, len(entries))
	for _, e := range entries {
		cols := []string{
			e.Name,
			methodName(e.Method),
			fmt.Sprintf("%d", e.UncompressedSize64),
			fmt.Sprintf("%d", e.CompressedSize64),
			fmt.Sprintf("%08x", e.CRC32),
			e.Modified.Format("2006-01-02 15:04:05"),
		}
		if verbose {
			cols = append(cols, e.Mode().String())
		}
		rows = append(rows, entryRow{cols: cols})
	}
	return writeTable(w, format, header, rows)
}

func methodName(m uint16) string {
	switch m {
	case zipkit.Store:
		return "store"
	case zipkit.Deflate:
		return "deflate"
	default:
		return fmt.Sprintf("method%d", m)
	}
}

// writeDiffTable renders a diff job's per-path classification.
func writeDiffTable(w io.Writer, format OutputFormat, results []Result) error {
	header := []string{"Name", "Result"}
	rows := make([]entryRow, 0, len(results))
	for _, r := range results {
		rows = append(rows, entryRow{cols: []string{r.Name, r.Kind.String()}})
	}
	return writeTable(w, format, header, rows)
}
