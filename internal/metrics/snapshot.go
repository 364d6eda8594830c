package metrics

import (
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Snapshot is an immutable, point-in-time read of every metric in a sink.
type Snapshot struct {
	Taken   time.Time
	Elapsed time.Duration
	metrics map[string]MetricSnapshot
}

// MetricSnapshot holds the aggregates of one metric. Fields that do not apply
// to the metric's kind are zero.
type MetricSnapshot struct {
	Name   string
	Kind   Kind
	Count  int64   // observations; for rates, total observations
	Sum    float64 // counters: accumulated value; rates: number of true values
	Min    float64
	Max    float64
	Avg    float64
	Med    float64
	P90    float64
	P95    float64
	P99    float64
	Rate   float64 // rates: true/total; counters: sum per second
	Passes int64
	Fails  int64

	hist *hdrhistogram.Histogram
}

// NewSnapshot builds a snapshot from precomputed aggregates. It is meant for
// tests and for replaying archived summaries; percentiles beyond the stored
// fields are unavailable on snapshots built this way.
func NewSnapshot(elapsed time.Duration, metrics ...MetricSnapshot) Snapshot {
	snap := Snapshot{
		Taken:   time.Now(),
		Elapsed: elapsed,
		metrics: make(map[string]MetricSnapshot, len(metrics)),
	}
	for _, m := range metrics {
		m.hist = nil
		snap.metrics[m.Name] = m
	}
	return snap
}

// Get returns the aggregates recorded under name.
func (s Snapshot) Get(name string) (MetricSnapshot, bool) {
	m, ok := s.metrics[name]
	return m, ok
}

// Names returns all metric names in lexical order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.metrics))
	for name := range s.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s Snapshot) Len() int {
	return len(s.metrics)
}

// Percentile returns the p-th percentile (0-100) of a distribution. Results are
// clamped to the observed min and max so the histogram's bucket rounding
// never reports values that were not in range. Snapshots without a histogram
// fall back to the nearest stored percentile field.
func (m MetricSnapshot) Percentile(p float64) float64 {
	if m.Kind != KindDistribution || m.Count == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if m.hist == nil {
		return m.storedPercentile(p)
	}
	v := float64(m.hist.ValueAtQuantile(p)) / distributionScale
	if v < m.Min {
		v = m.Min
	}
	if v > m.Max {
		v = m.Max
	}
	return v
}

func (m MetricSnapshot) storedPercentile(p float64) float64 {
	switch {
	case p <= 0:
		return m.Min
	case p <= 50:
		return m.Med
	case p <= 90:
		return m.P90
	case p <= 95:
		return m.P95
	case p <= 99:
		return m.P99
	default:
		return m.Max
	}
}
