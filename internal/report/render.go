package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// WriteText renders the report as plain-text tables in entry order. Failed
// entries render an explicit notice in their slot instead of a table, so no
// section ever goes silently missing.
func WriteText(w io.Writer, r *Report) error {
	_, err := fmt.Fprintf(w, "run %s  dataset %s  started %s  took %s\n",
		r.RunID, r.Dataset, r.StartedAt.UTC().Format("2006-01-02 15:04:05"), r.Duration.Round(time.Millisecond))
	if err != nil {
		return err
	}
	for _, e := range r.Entries {
		if _, err := fmt.Fprintf(w, "\n%d. %s\n", e.Position+1, e.Question); err != nil {
			return err
		}
		if e.Failure != nil {
			notice := strings.ToUpper(string(e.Failure.State))
			if e.Failure.Error != "" {
				notice += ": " + e.Failure.Error
			}
			if _, err := fmt.Fprintf(w, "   [%s]\n", notice); err != nil {
				return err
			}
			continue
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "   "+strings.Join(e.Result.Columns, "\t"))
		for _, row := range e.Result.Rows {
			fmt.Fprintln(tw, "   "+strings.Join(row, "\t"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if len(e.Result.Rows) == 0 {
			if _, err := fmt.Fprintln(w, "   (no rows)"); err != nil {
				return err
			}
		}
	}
	return nil
}
