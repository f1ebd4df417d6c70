// Package ui renders the client in a terminal: the offers list, connection
// and scanner status, the statistics dashboard and notifications.
package ui

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"cnsniper/internal/filter"
	"cnsniper/internal/model"
	"cnsniper/internal/realtime"
	"cnsniper/internal/stats"
	"cnsniper/internal/worker"
)

// Stats views.
const (
	StatsGlobal = "global"
	StatsToday  = "today"
	StatsWeekly = "weekly"
)

const (
	maxTitle = 60
	barWidth = 30
)

// Renderer writes the views to a terminal.
type Renderer struct {
	out io.Writer
	now func() time.Time
}

// NewRenderer creates a Renderer writing to out.
func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out, now: time.Now}
}

// Offers renders the offer list. The offer whose match key equals
// highlighted is marked as coming from a notification.
func (r *Renderer) Offers(offers []model.Offer, highlighted string, numbers []int) error {
	if len(offers) == 0 {
		_, err := fmt.Fprintln(r.out, pterm.Gray("No offers yet."))
		return err
	}

	data := pterm.TableData{{"Source", "Flags", "Title", "Price", "Found"}}
	for _, o := range offers {
		data = append(data, []string{
			strings.ToUpper(string(o.Source)),
			flags(o, highlighted, numbers),
			truncate(o.Title, maxTitle),
			price(o.Price),
			r.found(o.FoundAt),
		})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("render offers: %w", err)
	}
	_, err = fmt.Fprintln(r.out, out)
	return err
}

func flags(o model.Offer, highlighted string, numbers []int) string {
	var f []string
	if o.IsGigantos {
		f = append(f, pterm.Red("GIGANTOS"))
	}
	if filter.HighlightedByNumbers(o, numbers) {
		f = append(f, pterm.Yellow("NUMER"))
	}
	if highlighted != "" && o.MatchKey == highlighted {
		f = append(f, pterm.Cyan("push"))
	}
	return strings.Join(f, " ")
}

func price(p string) string {
	if p == "" {
		return pterm.Gray("no price")
	}
	return p
}

func (r *Renderer) found(ts int64) string {
	if ts == 0 {
		return ""
	}
	return humanize.RelTime(time.Unix(ts, 0), r.now(), "ago", "from now")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

// Connection renders the live feed connection state.
func (r *Renderer) Connection(st realtime.State) error {
	var line string
	switch st {
	case realtime.StateOpen:
		line = pterm.Green("● LIVE")
	case realtime.StateConnecting:
		line = pterm.Yellow("● connecting…")
	default:
		line = pterm.Red("● disconnected")
	}
	_, err := fmt.Fprintln(r.out, line)
	return err
}

// Health renders the scanner status pushed on the status channel.
func (r *Renderer) Health(h model.HealthStatus) error {
	scanning := pterm.Gray("idle")
	if h.Scanning {
		scanning = pterm.Green("scanning")
	}
	_, err := fmt.Fprintf(r.out, "Scanner: %s  uptime %s  next scan in %ds\n", scanning, stats.Uptime(h.UptimeSec), h.NextScanIn)
	return err
}

// Interval renders the scan interval.
func (r *Renderer) Interval(sec int) error {
	_, err := fmt.Fprintf(r.out, "Scan interval: %d s\n", sec)
	return err
}

// Numbers renders the highlighted numbers.
func (r *Renderer) Numbers(numbers []int) error {
	if len(numbers) == 0 {
		_, err := fmt.Fprintln(r.out, "No highlighted numbers.")
		return err
	}
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = fmt.Sprint(n)
	}
	_, err := fmt.Fprintf(r.out, "Highlighted numbers: %s\n", strings.Join(parts, ", "))
	return err
}

// Stats renders one view of the statistics dashboard.
func (r *Renderer) Stats(d *model.Dashboard, view string) error {
	var b strings.Builder
	switch view {
	case StatsToday:
		b.WriteString(pterm.Bold.Sprint("Today") + "\n")
		if !stats.HasToday(d.Today) {
			b.WriteString(pterm.Gray("No data for today") + "\n")
			break
		}
		writeTotals(&b, d.Today.Totals, nil)
		writeSources(&b, d.Today.PerSource)
	case StatsWeekly:
		b.WriteString(pterm.Bold.Sprint("This week") + "\n")
		if d.Weekly == nil || d.Weekly.Current == nil {
			b.WriteString(pterm.Gray("No weekly data") + "\n")
			break
		}
		writeTotals(&b, d.Weekly.Current.Totals, d.Weekly.Compare)
		writeSources(&b, d.Weekly.Current.PerSource)
	default:
		b.WriteString(pterm.Bold.Sprint("Global") + "\n")
		if d.Global == nil {
			b.WriteString(pterm.Gray("No data") + "\n")
			break
		}
		fmt.Fprintf(&b, "%-10s %s\n", "Uptime", stats.Uptime(d.Global.UptimeSec))
		fmt.Fprintf(&b, "%-10s %s\n", "Scans", stats.Count(d.Global.Scans))
		writeTotals(&b, d.Global.Totals, nil)
		writeSources(&b, d.Global.PerSource)
	}
	_, err := io.WriteString(r.out, b.String())
	return err
}

func writeTotals(b *strings.Builder, t model.Totals, compare map[string]model.Delta) {
	for _, c := range stats.Counters(t) {
		fmt.Fprintf(b, "%-10s %s", c.Label, stats.Count(c.Value))
		delta := compare[c.Key]
		if s := stats.Delta(delta); s != "" {
			if delta.Abs > 0 {
				s = pterm.Green(s)
			} else {
				s = pterm.Red(s)
			}
			b.WriteString("  " + s)
		}
		b.WriteString("\n")
	}
}

func writeSources(b *strings.Builder, perSource map[string]int64) {
	sources := stats.Sources(perSource)
	if len(sources) == 0 {
		return
	}
	top := sources[0].Value
	b.WriteString("\n")
	for _, s := range sources {
		bar := strings.Repeat("█", stats.BarWidth(s.Value, top, barWidth))
		fmt.Fprintf(b, "%-10s %s %s\n", strings.ToUpper(s.Label), pterm.Cyan(bar), stats.Count(s.Value))
	}
}

// Notification renders a notification with the link that clicks it.
func (r *Renderer) Notification(n model.Notification, clickURL string) error {
	body := n.Body
	if clickURL != "" {
		body += "\n\n" + pterm.Gray("open: ") + clickURL
	}
	title := n.Title
	if slices.Equal(n.Vibrate, worker.VibrateGigantos) {
		title = pterm.Red(title)
	}
	_, err := fmt.Fprintln(r.out, pterm.DefaultBox.WithTitle(title).Sprint(body))
	return err
}

// Message prints an informational line.
func (r *Renderer) Message(format string, args ...any) {
	_, _ = fmt.Fprintln(r.out, fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (r *Renderer) Error(msg string) {
	_, _ = fmt.Fprintln(r.out, pterm.Red("✗ ")+msg)
}
