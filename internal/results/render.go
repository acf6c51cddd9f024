package results

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pterm/pterm"
)

// Render draws the current page of buf as a table followed by a status line.
func Render(w io.Writer, buf *Buffer) error {
	cols := buf.Columns()
	if len(cols) > 0 {
		data := make(pterm.TableData, 0, buf.PageEnd()-buf.PageStart()+1)
		header := make([]string, len(cols))
		for i, c := range cols {
			header[i] = c.Name
		}
		data = append(data, header)
		for _, row := range buf.PageRows() {
			data = append(data, formatRow(row, len(cols)))
		}

		table, err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Srender()
		if err != nil {
			return fmt.Errorf("render table: %w", err)
		}
		if _, err := fmt.Fprintln(w, table); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, StatusLine(buf))
	return err
}

// StatusLine summarizes the window position and timings.
func StatusLine(buf *Buffer) string {
	st := buf.Stats()
	timings := fmt.Sprintf("exec %d ms · fetch %d ms · total %d ms", st.ExecMillis, st.FetchMillis, st.TotalMillis)

	total := buf.TotalRowCount()
	if len(buf.Columns()) == 0 && total == 0 {
		return pterm.FgGray.Sprint("OK · " + timings)
	}

	var window string
	if total == 0 {
		window = "0 rows"
	} else {
		window = fmt.Sprintf("rows %d-%d of %d", buf.PageStart()+1, buf.PageEnd(), total)
	}
	if n := buf.PageCount(); n > 1 {
		window += fmt.Sprintf(" (page %d/%d)", buf.Page(), n)
	}
	if !buf.Final() {
		window += " · fetching"
	}
	return pterm.FgGray.Sprint(window + " · " + timings)
}

// RenderJSON writes every row received so far as a JSON array of objects keyed by column name.
func RenderJSON(w io.Writer, buf *Buffer) error {
	cols := buf.Columns()
	out := make([]map[string]any, 0, buf.TotalRowCount())
	for _, row := range buf.AllRows() {
		obj := make(map[string]any, len(cols))
		for i, c := range cols {
			if i < len(row) {
				obj[c.Name] = row[i]
			}
		}
		out = append(out, obj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func formatRow(row []any, width int) []string {
	cells := make([]string, width)
	for i := range cells {
		if i < len(row) {
			cells[i] = FormatValue(row[i])
		}
	}
	return cells
}

// FormatValue renders a single cell; SQL NULL is shown as NULL.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}
