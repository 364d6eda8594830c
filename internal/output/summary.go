package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/threshold"
)

// Summary is the structured form of a report, meant for archival and CI.
type Summary struct {
	RunID       string                   `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Started     time.Time                `json:"started" yaml:"started"`
	Duration    float64                  `json:"duration_seconds" yaml:"duration_seconds"`
	MaxVUs      int                      `json:"max_vus" yaml:"max_vus"`
	Iterations  int64                    `json:"iterations" yaml:"iterations"`
	Interrupted int64                    `json:"interrupted_iterations" yaml:"interrupted_iterations"`
	Aborted     string                   `json:"aborted,omitempty" yaml:"aborted,omitempty"`
	Metrics     map[string]MetricSummary `json:"metrics" yaml:"metrics"`
	Thresholds  map[string]bool          `json:"thresholds" yaml:"thresholds"`
	Pass        bool                     `json:"pass" yaml:"pass"`
}

// MetricSummary holds the aggregates of one metric. Fields that do not apply
// to the metric's kind are omitted.
type MetricSummary struct {
	Kind  string  `json:"kind" yaml:"kind"`
	Count int64   `json:"count" yaml:"count"`
	Value float64 `json:"value,omitempty" yaml:"value,omitempty"` // counters: accumulated value
	Avg   float64 `json:"avg,omitempty" yaml:"avg,omitempty"`
	Min   float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max   float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Med   float64 `json:"med,omitempty" yaml:"med,omitempty"`
	P90   float64 `json:"p90,omitempty" yaml:"p90,omitempty"`
	P95   float64 `json:"p95,omitempty" yaml:"p95,omitempty"`
	P99   float64 `json:"p99,omitempty" yaml:"p99,omitempty"`
	Rate  float64 `json:"rate" yaml:"rate"`
}

// Supported summary encodings.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Encode writes the summary in the given format.
func (s Summary) Encode(w io.Writer, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported summary format %q (supported: json, yaml)", format)
	}
}

func buildSummary(snap metrics.Snapshot, outcome threshold.Outcome, meta Meta) Summary {
	duration := meta.Duration
	if duration == 0 {
		duration = snap.Elapsed
	}
	s := Summary{
		RunID:       meta.RunID,
		Started:     meta.Started,
		Duration:    duration.Seconds(),
		MaxVUs:      meta.MaxVUs,
		Iterations:  meta.Iterations,
		Interrupted: meta.Interrupted,
		Aborted:     meta.Aborted,
		Metrics:     make(map[string]MetricSummary, snap.Len()),
		Thresholds:  make(map[string]bool, len(outcome.Results)),
		Pass:        outcome.Pass,
	}
	for _, name := range snap.Names() {
		m, _ := snap.Get(name)
		if unusedErrorClass(m) {
			continue
		}
		s.Metrics[name] = summarize(m)
	}
	for _, r := range outcome.Results {
		key := r.Rule.Raw
		if key == "" {
			key = r.Rule.String()
		}
		// A description listed twice passes only if every instance passed.
		if prev, dup := s.Thresholds[key]; dup {
			s.Thresholds[key] = prev && r.Pass
			continue
		}
		s.Thresholds[key] = r.Pass
	}
	return s
}

func summarize(m metrics.MetricSnapshot) MetricSummary {
	out := MetricSummary{Kind: m.Kind.String(), Count: m.Count}
	switch m.Kind {
	case metrics.KindCounter:
		out.Value = m.Sum
		out.Rate = m.Rate
	case metrics.KindRate:
		out.Rate = m.Rate
	case metrics.KindDistribution:
		out.Avg = m.Avg
		out.Min = m.Min
		out.Max = m.Max
		out.Med = m.Med
		out.P90 = m.P90
		out.P95 = m.P95
		out.P99 = m.P99
	}
	return out
}

// unusedErrorClass reports a declared http_req_errors{class} counter that
// never fired.
func unusedErrorClass(m metrics.MetricSnapshot) bool {
	name, _, tagged := metrics.SplitTagged(m.Name)
	return tagged && name == metrics.HTTPReqErrors && m.Count == 0
}
