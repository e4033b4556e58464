package validate

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// WriteTable prints the report as an aligned table followed by a summary line.
func WriteTable(w io.Writer, rep Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TEST\tRESULT\tMISMATCHES\tDESCRIPTION")
	for _, r := range rep.Results {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", r.TestID, r.Status, r.Mismatches, r.Description)
		if r.Detail != "" {
			fmt.Fprintf(tw, "\t\t\t  %s\n", r.Detail)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	failed := len(rep.Failed())
	_, err := fmt.Fprintf(w, "%d/%d checks passed\n", len(rep.Results)-failed, len(rep.Results))
	return err
}
