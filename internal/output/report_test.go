package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/threshold"
)

func sampleSink(t *testing.T) *metrics.Sink {
	t.Helper()
	sink := metrics.NewSink()
	for name, kind := range metrics.Builtins() {
		if err := sink.Declare(name, kind); err != nil {
			t.Fatal(err)
		}
	}
	for _, class := range metrics.ErrorClasses() {
		if err := sink.Declare(metrics.Tagged(metrics.HTTPReqErrors, class), metrics.KindCounter); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 100; i++ {
		sink.Add(metrics.HTTPReqs, 1)
		sink.ObserveDuration(metrics.HTTPReqDuration, 50*time.Millisecond)
		sink.AddRate(metrics.HTTPReqFailed, i < 5)
		sink.AddRate(metrics.Checks, i >= 5)
		sink.AddRate("checks{locations status}", i >= 5)
		sink.AddRate("errors", i < 5)
		sink.ObserveDuration("locations_duration", 50*time.Millisecond)
	}
	sink.Add("http_req_errors{timeout}", 2)
	return sink
}

func evaluate(t *testing.T, snap metrics.Snapshot, rules ...string) threshold.Outcome {
	t.Helper()
	parsed, err := threshold.ParseMultiple(rules)
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}
	return threshold.NewEvaluator(parsed).Evaluate(snap)
}

func TestRenderTextSections(t *testing.T) {
	snap := sampleSink(t).Snapshot()
	outcome := evaluate(t, snap, "http_req_duration:p95 < 2000", "errors:rate < 0.01")

	report := Render(snap, outcome, Meta{
		RunID:         "01HX",
		Duration:      10 * time.Second,
		MaxVUs:        5,
		Iterations:    100,
		Interrupted:   2,
		CustomMetrics: []string{"errors", "locations_duration"},
	})

	text := report.Text
	for _, want := range []string{
		"run 01HX",
		"Total Requests:    100",
		"Avg Duration:      50.00ms",
		"P95 Duration:      50.00ms",
		"Error Rate:        5.00%",
		"Requests/sec:      10.00",
		"Iterations:        100 (2 interrupted)",
		"Max VUs:           5",
		"✗ locations status: 95.00% (95/100)",
		"locations_duration: count=100 avg=50.00ms",
		"errors: rate=5.00% (5/100)",
		"Request timeout: 2",
		"✓ http_req_duration:p95 < 2000",
		"✗ errors:rate < 0.01",
		"FAIL: 1 of 2 thresholds failed",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q\n%s", want, text)
		}
	}

	// Sections appear in a fixed order.
	order := []string{"Total Requests", "Avg Duration", "P95 Duration", "Error Rate", "Checks:", "Custom Metrics:", "Thresholds:"}
	last := -1
	for _, heading := range order {
		idx := strings.Index(text, heading)
		if idx <= last {
			t.Fatalf("section %q out of order in\n%s", heading, text)
		}
		last = idx
	}
	if strings.Contains(text, "Connection refused") {
		t.Error("error classes that never fired should be omitted")
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	snap := sampleSink(t).Snapshot()
	outcome := evaluate(t, snap, "http_req_duration:p95 < 2000")
	meta := Meta{Duration: time.Second, CustomMetrics: []string{"errors"}}

	first := Render(snap, outcome, meta).Text
	for i := 0; i < 5; i++ {
		if got := Render(snap, outcome, meta).Text; got != first {
			t.Fatalf("render %d differs:\n%s\nvs\n%s", i, got, first)
		}
	}
}

func TestRenderPassWithoutThresholds(t *testing.T) {
	snap := metrics.NewSink().Snapshot()
	report := Render(snap, threshold.Outcome{Pass: true}, Meta{})
	if strings.Contains(report.Text, "Thresholds:") {
		t.Error("thresholds section should be omitted without rules")
	}
	if !strings.Contains(report.Text, "Total Requests:    0") {
		t.Errorf("empty run should still render totals:\n%s", report.Text)
	}
	if !report.Summary.Pass {
		t.Error("summary should pass without rules")
	}
}

func TestSummaryContents(t *testing.T) {
	snap := sampleSink(t).Snapshot()
	outcome := evaluate(t, snap, "http_req_duration:p95 < 2000", "errors:rate < 0.01")
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s := Render(snap, outcome, Meta{RunID: "01HX", Started: started, Duration: 20 * time.Second, MaxVUs: 5}).Summary

	if s.Pass {
		t.Error("summary should fail when a threshold failed")
	}
	if s.Duration != 20 || s.MaxVUs != 5 || !s.Started.Equal(started) {
		t.Errorf("unexpected run metadata %+v", s)
	}
	if !s.Thresholds["http_req_duration:p95 < 2000"] || s.Thresholds["errors:rate < 0.01"] {
		t.Errorf("unexpected thresholds %v", s.Thresholds)
	}

	dur := s.Metrics[metrics.HTTPReqDuration]
	if dur.Kind != "distribution" || dur.Count != 100 || dur.P95 != 50 || dur.P99 != 50 {
		t.Errorf("unexpected http_req_duration summary %+v", dur)
	}
	if got := s.Metrics["errors"]; got.Kind != "rate" || got.Rate != 0.05 {
		t.Errorf("unexpected errors summary %+v", got)
	}
	if got := s.Metrics[metrics.HTTPReqs]; got.Kind != "counter" || got.Value != 100 {
		t.Errorf("unexpected http_reqs summary %+v", got)
	}
	if _, ok := s.Metrics["http_req_errors{timeout}"]; !ok {
		t.Error("fired error class missing from summary")
	}
	if _, ok := s.Metrics["http_req_errors{dns}"]; ok {
		t.Error("unused error class should be omitted from summary")
	}
}

func TestSummaryEncodeJSON(t *testing.T) {
	snap := sampleSink(t).Snapshot()
	s := Render(snap, evaluate(t, snap, "errors:rate < 0.1"), Meta{RunID: "01HX"}).Summary

	var buf bytes.Buffer
	if err := s.Encode(&buf, "json"); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if decoded["run_id"] != "01HX" || decoded["pass"] != true {
		t.Errorf("unexpected top level %v", decoded)
	}
	m := decoded["metrics"].(map[string]interface{})
	dur := m["http_req_duration"].(map[string]interface{})
	for _, key := range []string{"count", "avg", "p95", "p99", "rate"} {
		if _, ok := dur[key]; !ok {
			t.Errorf("http_req_duration missing %q in %v", key, dur)
		}
	}
	th := decoded["thresholds"].(map[string]interface{})
	if th["errors:rate < 0.1"] != true {
		t.Errorf("unexpected thresholds %v", th)
	}
}

func TestSummaryEncodeYAML(t *testing.T) {
	snap := sampleSink(t).Snapshot()
	s := Render(snap, evaluate(t, snap, "errors:rate < 0.01"), Meta{}).Summary

	var buf bytes.Buffer
	if err := s.Encode(&buf, "YAML"); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var decoded Summary
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid YAML: %v\n%s", err, buf.String())
	}
	if decoded.Pass || decoded.Thresholds["errors:rate < 0.01"] {
		t.Errorf("unexpected decoded summary %+v", decoded)
	}
	if decoded.Metrics["errors"].Rate != 0.05 {
		t.Errorf("errors rate = %v", decoded.Metrics["errors"].Rate)
	}
}

func TestSummaryEncodeUnknownFormat(t *testing.T) {
	if err := (Summary{}).Encode(&bytes.Buffer{}, "xml"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestStylesMark(t *testing.T) {
	st := newStyles(false)
	if st.mark(true) != "✓" || st.mark(false) != "✗" {
		t.Errorf("plain marks = %q %q", st.mark(true), st.mark(false))
	}
	colored := newStyles(true)
	if !strings.Contains(colored.mark(true), "✓") {
		t.Errorf("colored mark lost its symbol: %q", colored.mark(true))
	}
}
