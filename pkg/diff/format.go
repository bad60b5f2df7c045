package diff

import (
	"fmt"
	"strings"
)

// Format renders a report as human-readable text for the CLI.
func Format(r *Report) string {
	var b strings.Builder

	line := strings.Repeat("=", 70)
	fmt.Fprintf(&b, "%s\nretrace diff report\n%s\n\n", line, line)
	fmt.Fprintf(&b, "Baseline:   %s\n", r.KeyA)
	fmt.Fprintf(&b, "Comparison: %s\n\n", r.KeyB)
	fmt.Fprintf(&b, "Request: %s %s\n\n", r.Method, r.Path)

	switch {
	case r.IsRegression:
		b.WriteString("[FAIL] regression detected\n\n")
	case r.HasDifferences:
		b.WriteString("[WARN] differences found\n\n")
	default:
		b.WriteString("[OK] no differences\n\n")
	}

	fmt.Fprintf(&b, "Response: %d -> %d", r.Response.OldStatus, r.Response.NewStatus)
	if r.Response.StatusChanged {
		b.WriteString("  (changed)")
	}
	fmt.Fprintf(&b, "  %+.1fms (%+.0f%%)\n", r.Response.DurationDeltaMS, r.Response.DurationDeltaPct)
	if r.Response.BodyChanged {
		b.WriteString("Response body changed\n")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Events: %d baseline, %d comparison\n", r.EventCountA, r.EventCountB)
	for _, d := range r.EventDiffs {
		marker := " "
		if d.Critical {
			marker = "!"
		}
		fmt.Fprintf(&b, "  %s [%d] %-12s %s\n", marker, d.Index, d.Type, d.Summary)
	}
	if len(r.ExtraEventsA) > 0 {
		fmt.Fprintf(&b, "  only in baseline: %v\n", r.ExtraEventsA)
	}
	if len(r.ExtraEventsB) > 0 {
		fmt.Fprintf(&b, "  only in comparison: %v\n", r.ExtraEventsB)
	}

	return b.String()
}
