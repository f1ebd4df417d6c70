// Package stats formats scanner statistics for display.
package stats

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"cnsniper/internal/model"
)

// Counter is one labelled statistic.
type Counter struct {
	Key   string
	Label string
	Value int64
}

// Counters lists the totals in display order. Key matches the weekly
// comparison keys.
func Counters(t model.Totals) []Counter {
	return []Counter{
		{Key: "new", Label: "New", Value: t.New},
		{Key: "gigantos", Label: "Gigantos", Value: t.Gigantos},
		{Key: "junk", Label: "Junk", Value: t.Junk},
		{Key: "change", Label: "Change", Value: t.Change},
	}
}

// Sources returns per-source counts sorted by count, largest first.
func Sources(perSource map[string]int64) []Counter {
	out := make([]Counter, 0, len(perSource))
	for src, n := range perSource {
		out = append(out, Counter{Key: src, Label: src, Value: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Uptime formats seconds as "Xh Ym".
func Uptime(sec int64) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%dh %dm", sec/3600, sec%3600/60)
}

// Count formats a counter with thousands separators.
func Count(n int64) string {
	return humanize.Comma(n)
}

// Delta formats a week-over-week change as an arrow, the change and the
// percentage. It returns "" for no change or when there is no previous
// week to compare against.
func Delta(d model.Delta) string {
	if d.Abs == 0 || d.Pct == nil {
		return ""
	}
	arrow := "▲"
	if d.Abs < 0 {
		arrow = "▼"
	}
	return fmt.Sprintf("%s %s (%s%%)", arrow, humanize.Comma(d.Abs), humanize.FtoaWithDigits(*d.Pct, 1))
}

// HasToday reports whether the today view has anything to show.
func HasToday(d *model.DayStats) bool {
	return d != nil && d.New > 0
}

// BarWidth scales v against top to a bar of at most width cells.
func BarWidth(v, top int64, width int) int {
	if top < 1 {
		top = 1
	}
	if v <= 0 {
		return 0
	}
	return int(math.Round(float64(v) / float64(top) * float64(width)))
}

// Text renders the dashboard as plain text.
func Text(d *model.Dashboard) string {
	var b strings.Builder
	if g := d.Global; g != nil {
		fmt.Fprintf(&b, "Global\nUptime: %s\nScans: %s\n", Uptime(g.UptimeSec), Count(g.Scans))
		writeCounters(&b, g.Totals, nil)
	}
	b.WriteString("\nToday\n")
	if HasToday(d.Today) {
		writeCounters(&b, d.Today.Totals, nil)
	} else {
		b.WriteString("No data for today\n")
	}
	b.WriteString("\nThis week\n")
	if d.Weekly != nil && d.Weekly.Current != nil {
		writeCounters(&b, d.Weekly.Current.Totals, d.Weekly.Compare)
	} else {
		b.WriteString("No weekly data\n")
	}
	return b.String()
}

func writeCounters(b *strings.Builder, t model.Totals, compare map[string]model.Delta) {
	for _, c := range Counters(t) {
		fmt.Fprintf(b, "%s: %s", c.Label, Count(c.Value))
		if delta := Delta(compare[c.Key]); delta != "" {
			b.WriteString("  " + delta)
		}
		b.WriteString("\n")
	}
}
