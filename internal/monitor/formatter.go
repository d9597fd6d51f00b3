package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/canopy/internal/change"
	"github.com/fyrsmithlabs/canopy/internal/client"
	"github.com/fyrsmithlabs/canopy/internal/tree"
)

// FormatRate formats a per-interval count as "X.X changes/s"
func FormatRate(count float64, interval time.Duration) string {
	if interval <= 0 {
		return fmt.Sprintf("%.1f changes", count)
	}
	return fmt.Sprintf("%.1f changes/s", count/interval.Seconds())
}

// FormatUpdate renders one replica update as a single line.
func FormatUpdate(u client.Update) string {
	switch u.Kind {
	case client.UpdateChange:
		return change.Describe(u.Change)
	case client.UpdateSnapshot:
		return fmt.Sprintf("resynced (hash %016x)", u.Hash)
	case client.UpdateLog:
		return "server: " + u.Text
	default:
		return fmt.Sprintf("update(%d)", u.Kind)
	}
}

// TreeLines renders v one node per line, indented by depth, and stops
// after limit lines with a "… N more" marker.
func TreeLines(v tree.View, limit int) []string {
	var lines []string
	var walk func(v tree.View, depth int)
	walk = func(v tree.View, depth int) {
		if len(lines) >= limit {
			return
		}
		name := "-"
		if v.Name != nil {
			name = *v.Name
		}
		lines = append(lines, fmt.Sprintf("%s%s %s", strings.Repeat("  ", depth), name, tree.FormatData(v.Data.Data)))
		for _, c := range v.Children {
			walk(c, depth+1)
		}
	}
	walk(v, 0)

	if total := v.Count(); total > len(lines) {
		lines = append(lines, fmt.Sprintf("… %d more", total-len(lines)))
	}
	return lines
}
