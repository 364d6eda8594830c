package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Sink records named observations in a thread-safe manner. A run owns its
// sink; virtual users only append to it.
type Sink struct {
	mu      sync.RWMutex
	metrics map[string]metric
	now     func() time.Time

	start    atomic.Int64 // unix nanos, 0 until Start
	frozenAt atomic.Int64 // unix nanos, 0 while writable
}

type metric interface {
	kind() Kind
	record(v float64)
	snapshot(elapsed time.Duration) MetricSnapshot
}

func NewSink() *Sink {
	return &Sink{
		metrics: make(map[string]metric),
		now:     time.Now,
	}
}

// Start marks the beginning of the measured window used for counter rates.
func (s *Sink) Start() {
	s.start.Store(s.now().UnixNano())
}

// Freeze finalizes the sink. Observations recorded afterwards are dropped and
// snapshots report the elapsed time up to the freeze.
func (s *Sink) Freeze() {
	s.frozenAt.CompareAndSwap(0, s.now().UnixNano())
}

// Frozen reports whether Freeze has been called.
func (s *Sink) Frozen() bool {
	return s.frozenAt.Load() != 0
}

// Declare registers name with a fixed kind. Declaring an existing metric with
// the same kind is a no-op.
func (s *Sink) Declare(name string, kind Kind) error {
	if name == "" {
		return fmt.Errorf("metric name cannot be empty")
	}
	if kind < KindCounter || kind > KindDistribution {
		return fmt.Errorf("metric %q: invalid kind %d", name, kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.metrics[name]; ok {
		if existing.kind() != kind {
			return fmt.Errorf("metric %q already declared as %s", name, existing.kind())
		}
		return nil
	}
	s.metrics[name] = newMetric(kind)
	return nil
}

// Record appends value under name. Undeclared metrics are created as
// distributions.
func (s *Sink) Record(name string, value float64) {
	s.record(name, KindDistribution, value)
}

// Add increments a counter.
func (s *Sink) Add(name string, delta float64) {
	s.record(name, KindCounter, delta)
}

// AddRate appends a boolean observation to a rate metric.
func (s *Sink) AddRate(name string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	s.record(name, KindRate, v)
}

// Observe appends a sample to a distribution.
func (s *Sink) Observe(name string, value float64) {
	s.record(name, KindDistribution, value)
}

// ObserveDuration appends d, in milliseconds, to a distribution.
func (s *Sink) ObserveDuration(name string, d time.Duration) {
	s.record(name, KindDistribution, float64(d)/float64(time.Millisecond))
}

// Known returns the kinds of every metric currently registered.
func (s *Sink) Known() map[string]Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Kind, len(s.metrics))
	for name, m := range s.metrics {
		out[name] = m.kind()
	}
	return out
}

// Snapshot returns an immutable copy of all aggregates.
func (s *Sink) Snapshot() Snapshot {
	taken := s.now()
	if frozen := s.frozenAt.Load(); frozen != 0 {
		taken = time.Unix(0, frozen)
	}
	var elapsed time.Duration
	if start := s.start.Load(); start != 0 {
		elapsed = taken.Sub(time.Unix(0, start))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Taken:   taken,
		Elapsed: elapsed,
		metrics: make(map[string]MetricSnapshot, len(s.metrics)),
	}
	for name, m := range s.metrics {
		ms := m.snapshot(elapsed)
		ms.Name = name
		snap.metrics[name] = ms
	}
	return snap
}

func (s *Sink) record(name string, kind Kind, value float64) {
	if name == "" || s.Frozen() {
		return
	}
	s.lookup(name, kind).record(value)
}

// lookup returns the metric registered under name, creating it with kind
// when absent. An existing metric keeps its own kind.
func (s *Sink) lookup(name string, kind Kind) metric {
	s.mu.RLock()
	m, ok := s.metrics[name]
	s.mu.RUnlock()
	if ok {
		return m
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.metrics[name]; ok {
		return m
	}
	m = newMetric(kind)
	s.metrics[name] = m
	return m
}

func newMetric(kind Kind) metric {
	switch kind {
	case KindCounter:
		return newCounter()
	case KindRate:
		return newRate()
	default:
		return newDistribution()
	}
}
