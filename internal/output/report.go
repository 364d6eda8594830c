// Package output renders run results as a terminal report and a structured
// summary, and prints live progress while a run is in flight.
package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/threshold"
)

// Meta describes the run a report belongs to.
type Meta struct {
	RunID         string
	Started       time.Time
	Duration      time.Duration
	MaxVUs        int
	Iterations    int64
	Interrupted   int64
	Aborted       string   // reason the run was stopped early, if any
	CustomMetrics []string // metrics listed in the custom metrics table
	ErrorMetric   string   // rate behind the error rate line, http_req_failed when empty
	Color         bool
}

// Report is the rendered result of a run.
type Report struct {
	Text    string
	Summary Summary
}

var (
	colorPass  = lipgloss.Color("#04B575")
	colorFail  = lipgloss.Color("#FF5F87")
	colorTitle = lipgloss.Color("#7D56F4")
	colorMuted = lipgloss.Color("241")
)

type styles struct {
	title, pass, fail, muted lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{title: plain, pass: plain, fail: plain, muted: plain}
	}
	return styles{
		title: lipgloss.NewStyle().Bold(true).Foreground(colorTitle),
		pass:  lipgloss.NewStyle().Foreground(colorPass),
		fail:  lipgloss.NewStyle().Foreground(colorFail),
		muted: lipgloss.NewStyle().Foreground(colorMuted),
	}
}

func (s styles) mark(pass bool) string {
	if pass {
		return s.pass.Render("✓")
	}
	return s.fail.Render("✗")
}

// Render builds the text report and the structured summary. It performs no
// I/O.
func Render(snap metrics.Snapshot, outcome threshold.Outcome, meta Meta) Report {
	st := newStyles(meta.Color)
	var b strings.Builder

	fmt.Fprintln(&b, st.title.Render("--- Load Test Results ---"))
	if meta.RunID != "" {
		fmt.Fprintf(&b, "%s\n", st.muted.Render("run "+meta.RunID))
	}
	writeOverview(&b, snap, meta)
	writeChecks(&b, snap, st)
	writeCustomMetrics(&b, snap, meta.CustomMetrics)
	writeErrorClasses(&b, snap)
	writeThresholds(&b, outcome, st)

	return Report{Text: b.String(), Summary: buildSummary(snap, outcome, meta)}
}

func writeOverview(b *strings.Builder, snap metrics.Snapshot, meta Meta) {
	reqs, _ := snap.Get(metrics.HTTPReqs)
	dur, _ := snap.Get(metrics.HTTPReqDuration)
	errorMetric := meta.ErrorMetric
	if errorMetric == "" {
		errorMetric = metrics.HTTPReqFailed
	}
	failed, _ := snap.Get(errorMetric)

	duration := meta.Duration
	if duration == 0 {
		duration = snap.Elapsed
	}

	fmt.Fprintf(b, "Total Requests:    %d\n", int64(reqs.Sum))
	fmt.Fprintf(b, "Avg Duration:      %s\n", formatMillis(dur.Avg))
	fmt.Fprintf(b, "P95 Duration:      %s\n", formatMillis(dur.P95))
	fmt.Fprintf(b, "Error Rate:        %s\n", formatPercent(failed.Rate))
	fmt.Fprintln(b)
	fmt.Fprintf(b, "Duration:          %s\n", duration.Round(time.Millisecond))
	if duration > 0 {
		fmt.Fprintf(b, "Requests/sec:      %.2f\n", reqs.Sum/duration.Seconds())
	}
	fmt.Fprintf(b, "Iterations:        %d", meta.Iterations)
	if meta.Interrupted > 0 {
		fmt.Fprintf(b, " (%d interrupted)", meta.Interrupted)
	}
	fmt.Fprintln(b)
	fmt.Fprintf(b, "Max VUs:           %d\n", meta.MaxVUs)
	if meta.Aborted != "" {
		fmt.Fprintf(b, "Aborted:           %s\n", meta.Aborted)
	}
	if dur.Count > 0 {
		fmt.Fprintln(b, "\nLatency:")
		fmt.Fprintf(b, "  Min:             %s\n", formatMillis(dur.Min))
		fmt.Fprintf(b, "  Med:             %s\n", formatMillis(dur.Med))
		fmt.Fprintf(b, "  P90:             %s\n", formatMillis(dur.P90))
		fmt.Fprintf(b, "  P99:             %s\n", formatMillis(dur.P99))
		fmt.Fprintf(b, "  Max:             %s\n", formatMillis(dur.Max))
	}
}

func writeChecks(b *strings.Builder, snap metrics.Snapshot, st styles) {
	var rows []metrics.MetricSnapshot
	for _, name := range snap.Names() {
		base, _, tagged := metrics.SplitTagged(name)
		if !tagged || base != metrics.Checks {
			continue
		}
		m, _ := snap.Get(name)
		if m.Count > 0 {
			rows = append(rows, m)
		}
	}
	if len(rows) == 0 {
		return
	}

	fmt.Fprintln(b, "\nChecks:")
	for _, m := range rows {
		_, check, _ := metrics.SplitTagged(m.Name)
		fmt.Fprintf(b, "  %s %s: %s (%d/%d)\n", st.mark(m.Fails == 0), check, formatPercent(m.Rate), m.Passes, m.Count)
	}
	if total, ok := snap.Get(metrics.Checks); ok && total.Count > 0 {
		fmt.Fprintf(b, "  total: %s (%d/%d)\n", formatPercent(total.Rate), total.Passes, total.Count)
	}
}

func writeCustomMetrics(b *strings.Builder, snap metrics.Snapshot, names []string) {
	var rows []metrics.MetricSnapshot
	for _, name := range names {
		if m, ok := snap.Get(name); ok {
			rows = append(rows, m)
		}
	}
	if len(rows) == 0 {
		return
	}

	fmt.Fprintln(b, "\nCustom Metrics:")
	for _, m := range rows {
		switch m.Kind {
		case metrics.KindDistribution:
			fmt.Fprintf(b, "  %s: count=%d avg=%s p95=%s p99=%s max=%s\n",
				m.Name, m.Count, formatMillis(m.Avg), formatMillis(m.P95), formatMillis(m.P99), formatMillis(m.Max))
		case metrics.KindRate:
			fmt.Fprintf(b, "  %s: rate=%s (%d/%d)\n", m.Name, formatPercent(m.Rate), m.Passes, m.Count)
		default:
			fmt.Fprintf(b, "  %s: value=%g rate=%.2f/s\n", m.Name, m.Sum, m.Rate)
		}
	}
}

func writeErrorClasses(b *strings.Builder, snap metrics.Snapshot) {
	type row struct {
		class string
		count int64
	}
	var rows []row
	for _, name := range snap.Names() {
		base, class, tagged := metrics.SplitTagged(name)
		if !tagged || base != metrics.HTTPReqErrors {
			continue
		}
		m, _ := snap.Get(name)
		if m.Sum > 0 {
			rows = append(rows, row{class: class, count: int64(m.Sum)})
		}
	}
	if len(rows) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].count > rows[j].count })

	fmt.Fprintln(b, "\nTransport Errors:")
	for _, r := range rows {
		fmt.Fprintf(b, "  %s: %d\n", metrics.FriendlyErrorClass(r.class), r.count)
	}
}

func writeThresholds(b *strings.Builder, outcome threshold.Outcome, st styles) {
	if len(outcome.Results) == 0 {
		return
	}
	fmt.Fprintln(b, "\nThresholds:")
	for _, r := range outcome.Results {
		// Messages carry their own mark; recolor it.
		msg := strings.TrimPrefix(strings.TrimPrefix(r.Message, "✓ "), "✗ ")
		fmt.Fprintf(b, "  %s %s\n", st.mark(r.Pass), msg)
	}
	if outcome.Pass {
		fmt.Fprintf(b, "\n%s\n", st.pass.Render("PASS: all thresholds met"))
	} else {
		fmt.Fprintf(b, "\n%s\n", st.fail.Render(fmt.Sprintf("FAIL: %d of %d thresholds failed", len(outcome.Failed()), len(outcome.Results))))
	}
}

func formatMillis(ms float64) string {
	return fmt.Sprintf("%.2fms", ms)
}

func formatPercent(rate float64) string {
	return fmt.Sprintf("%.2f%%", rate*100)
}
