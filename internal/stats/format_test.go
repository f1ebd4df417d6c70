package stats

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cnsniper/internal/model"
)

func pct(v float64) *float64 { return &v }

func TestUptime(t *testing.T) {
	tests := []struct {
		sec  int64
		want string
	}{
		{0, "0h 0m"},
		{59, "0h 0m"},
		{3660, "1h 1m"},
		{90061, "25h 1m"},
		{-5, "0h 0m"},
	}
	for _, tt := range tests {
		if got := Uptime(tt.sec); got != tt.want {
			t.Errorf("Uptime(%d) = %q, want %q", tt.sec, got, tt.want)
		}
	}
}

func TestDelta(t *testing.T) {
	tests := []struct {
		name string
		d    model.Delta
		want string
	}{
		{name: "no change", d: model.Delta{Abs: 0, Pct: pct(0)}, want: ""},
		{name: "no previous week", d: model.Delta{Abs: 12}, want: ""},
		{name: "up", d: model.Delta{Abs: 1200, Pct: pct(12.5)}, want: "▲ 1,200 (12.5%)"},
		{name: "down", d: model.Delta{Abs: -3, Pct: pct(-30)}, want: "▼ -3 (-30%)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Delta(tt.d); got != tt.want {
				t.Errorf("Delta() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSources(t *testing.T) {
	got := Sources(map[string]int64{"olx": 5, "vinted": 12, "allegro": 5})
	want := []Counter{
		{Key: "vinted", Label: "vinted", Value: 12},
		{Key: "allegro", Label: "allegro", Value: 5},
		{Key: "olx", Label: "olx", Value: 5},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Sources mismatch (-want +got):\n%s", diff)
	}
}

func TestBarWidth(t *testing.T) {
	if got := BarWidth(5, 10, 20); got != 10 {
		t.Errorf("BarWidth(5, 10, 20) = %d, want 10", got)
	}
	if got := BarWidth(3, 0, 20); got != 20 {
		t.Errorf("BarWidth with zero top = %d, want capped at 1", got)
	}
	if got := BarWidth(0, 10, 20); got != 0 {
		t.Errorf("BarWidth(0, ...) = %d, want 0", got)
	}
}

func TestText(t *testing.T) {
	d := &model.Dashboard{
		Global: &model.GlobalStats{UptimeSec: 7260, Scans: 15000, Totals: model.Totals{New: 10}},
		Today:  &model.DayStats{},
		Weekly: &model.WeeklyStats{
			Current: &model.DayStats{Totals: model.Totals{New: 40, Junk: 2}},
			Compare: map[string]model.Delta{"new": {Abs: 10, Pct: pct(33.3)}, "junk": {Abs: 0, Pct: pct(0)}},
		},
	}
	got := Text(d)
	for _, want := range []string{"Uptime: 2h 1m", "Scans: 15,000", "No data for today", "New: 40  ▲ 10 (33.3%)", "Junk: 2\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("Text() missing %q in:\n%s", want, got)
		}
	}
}
