package app

import (
	"fmt"
	"io"
	"strings"

	"github.com/shpitdev/lead-engagement-pipeline/internal/pipeline"
)

// WriteSummary prints a short plain-text account of a finished run.
func WriteSummary(w io.Writer, run *pipeline.Run, rep pipeline.Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s\n", run.ID, run.State)
	fmt.Fprintf(&b, "  leads=%d scored=%d filtered=%d emails=%d\n", len(run.Leads), len(run.Scored), len(run.Filtered), len(run.Emails))
	for _, row := range rep.Filtered.Rows {
		fmt.Fprintf(&b, "  kept: %s (%s) score=%s\n", row[0], row[4], row[6])
	}
	for _, c := range rep.Costs {
		fmt.Fprintf(&b, "  cost: %s - %s scoring=$%.4f email=$%.4f\n", c.Name, c.Company, c.ScoringCost, c.EmailCost)
	}
	fmt.Fprintf(&b, "  total cost: $%.4f\n", rep.TotalCost())
	for _, f := range rep.Failures {
		fmt.Fprintf(&b, "  failure: %s\n", f)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
