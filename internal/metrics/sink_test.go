package metrics_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/torosent/stagefire/internal/metrics"
)

func TestSinkDistributionStats(t *testing.T) {
	s := metrics.NewSink()

	for _, v := range []float64{10, 20, 30, 40, 50} {
		s.Observe("latency", v)
	}

	m, ok := s.Snapshot().Get("latency")
	if !ok {
		t.Fatal("expected latency metric in snapshot")
	}
	if m.Kind != metrics.KindDistribution {
		t.Errorf("expected distribution, got %s", m.Kind)
	}
	if m.Count != 5 {
		t.Errorf("expected count 5, got %d", m.Count)
	}
	if m.Sum != 150 {
		t.Errorf("expected sum 150, got %v", m.Sum)
	}
	if m.Avg != 30 {
		t.Errorf("expected avg 30, got %v", m.Avg)
	}
	if m.Min != 10 || m.Max != 50 {
		t.Errorf("expected min 10 max 50, got %v %v", m.Min, m.Max)
	}
}

func TestSinkPercentiles(t *testing.T) {
	s := metrics.NewSink()

	// 100 samples: 1ms, 2ms, ..., 100ms.
	for i := 1; i <= 100; i++ {
		s.ObserveDuration(metrics.HTTPReqDuration, time.Duration(i)*time.Millisecond)
	}

	m, _ := s.Snapshot().Get(metrics.HTTPReqDuration)
	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"med", m.Med, 50},
		{"p90", m.P90, 90},
		{"p95", m.P95, 95},
		{"p99", m.P99, 99},
		{"p(99.9)", m.Percentile(99.9), 100},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > 1 {
			t.Errorf("expected %s ~%v, got %v", c.name, c.want, c.got)
		}
	}
}

func TestSinkPercentileClampedToObservedRange(t *testing.T) {
	s := metrics.NewSink()
	for i := 0; i < 20; i++ {
		s.Observe("flat", 50)
	}
	m, _ := s.Snapshot().Get("flat")
	if m.P95 != 50 || m.P99 != 50 {
		t.Errorf("expected percentiles of constant samples to be exact, got p95=%v p99=%v", m.P95, m.P99)
	}
}

func TestSinkRate(t *testing.T) {
	s := metrics.NewSink()
	s.AddRate("errors", true)
	s.AddRate("errors", false)
	s.AddRate("errors", false)
	s.AddRate("errors", true)

	m, _ := s.Snapshot().Get("errors")
	if m.Kind != metrics.KindRate {
		t.Fatalf("expected rate kind, got %s", m.Kind)
	}
	if m.Rate != 0.5 {
		t.Errorf("expected rate 0.5, got %v", m.Rate)
	}
	if m.Passes != 2 || m.Fails != 2 || m.Count != 4 {
		t.Errorf("unexpected rate counts: %+v", m)
	}
}

func TestSinkCounterRateUsesElapsed(t *testing.T) {
	s := metrics.NewSink()
	s.Start()
	for i := 0; i < 10; i++ {
		s.Add(metrics.HTTPReqs, 1)
	}
	time.Sleep(20 * time.Millisecond)
	s.Freeze()

	snap := s.Snapshot()
	m, _ := snap.Get(metrics.HTTPReqs)
	if m.Sum != 10 || m.Count != 10 {
		t.Errorf("expected 10 requests, got sum=%v count=%d", m.Sum, m.Count)
	}
	if snap.Elapsed <= 0 {
		t.Fatalf("expected positive elapsed, got %s", snap.Elapsed)
	}
	want := 10 / snap.Elapsed.Seconds()
	if math.Abs(m.Rate-want) > 1e-9 {
		t.Errorf("expected rate %v, got %v", want, m.Rate)
	}
}

func TestSinkFreezeDropsLateObservations(t *testing.T) {
	s := metrics.NewSink()
	s.Add("n", 1)
	s.Freeze()
	s.Add("n", 1)
	s.Observe("late", 1)

	snap := s.Snapshot()
	m, _ := snap.Get("n")
	if m.Sum != 1 {
		t.Errorf("expected frozen counter to stay at 1, got %v", m.Sum)
	}
	if _, ok := snap.Get("late"); ok {
		t.Errorf("expected metric created after freeze to be dropped")
	}
	if !s.Frozen() {
		t.Errorf("expected sink to report frozen")
	}
}

func TestSinkRecordInfersDistribution(t *testing.T) {
	s := metrics.NewSink()
	s.Record("custom", 3)
	m, _ := s.Snapshot().Get("custom")
	if m.Kind != metrics.KindDistribution {
		t.Errorf("expected undeclared metric to be a distribution, got %s", m.Kind)
	}
}

func TestSinkRecordHonorsDeclaredKind(t *testing.T) {
	s := metrics.NewSink()
	if err := s.Declare("errors", metrics.KindRate); err != nil {
		t.Fatalf("Declare failed: %v", err)
	}
	s.Record("errors", 1)
	s.Record("errors", 0)

	m, _ := s.Snapshot().Get("errors")
	if m.Kind != metrics.KindRate || m.Rate != 0.5 {
		t.Errorf("expected declared rate with 0.5, got %s %v", m.Kind, m.Rate)
	}
}

func TestSinkDeclareConflict(t *testing.T) {
	s := metrics.NewSink()
	if err := s.Declare("x", metrics.KindCounter); err != nil {
		t.Fatalf("Declare failed: %v", err)
	}
	if err := s.Declare("x", metrics.KindCounter); err != nil {
		t.Errorf("expected redeclare with same kind to succeed, got %v", err)
	}
	if err := s.Declare("x", metrics.KindRate); err == nil {
		t.Errorf("expected error redeclaring with another kind")
	}
	if err := s.Declare("", metrics.KindRate); err == nil {
		t.Errorf("expected error for empty name")
	}
}

func TestSinkDeclaredMetricAppearsEmpty(t *testing.T) {
	s := metrics.NewSink()
	_ = s.Declare("comments_duration", metrics.KindDistribution)

	m, ok := s.Snapshot().Get("comments_duration")
	if !ok {
		t.Fatal("expected declared metric in snapshot")
	}
	if m.Count != 0 || m.P95 != 0 || m.Percentile(95) != 0 {
		t.Errorf("expected empty aggregates, got %+v", m)
	}
}

func TestSinkAcceptsNegativeValues(t *testing.T) {
	s := metrics.NewSink()
	s.Observe("skew", -5)
	s.Observe("skew", 5)

	m, _ := s.Snapshot().Get("skew")
	if m.Count != 2 || m.Min != -5 || m.Sum != 0 {
		t.Errorf("expected negative sample recorded as-is, got %+v", m)
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	s := metrics.NewSink()
	s.Observe("latency", 10)
	snap := s.Snapshot()

	for i := 0; i < 100; i++ {
		s.Observe("latency", 1000)
	}

	m, _ := snap.Get("latency")
	if m.Count != 1 || m.Max != 10 || m.Percentile(99) != 10 {
		t.Errorf("expected snapshot to be unaffected by later writes, got %+v", m)
	}
}

func TestSinkConcurrentWriters(t *testing.T) {
	s := metrics.NewSink()
	const workers = 32
	const perWorker = 500

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.Add(metrics.HTTPReqs, 1)
				s.AddRate(metrics.HTTPReqFailed, i%2 == 0)
				s.ObserveDuration(metrics.HTTPReqDuration, time.Duration(i)*time.Microsecond)
			}
		}(w)
	}
	wg.Wait()

	snap := s.Snapshot()
	want := int64(workers * perWorker)
	for _, name := range []string{metrics.HTTPReqs, metrics.HTTPReqFailed, metrics.HTTPReqDuration} {
		m, _ := snap.Get(name)
		if m.Count != want {
			t.Errorf("%s: expected count %d, got %d", name, want, m.Count)
		}
	}
	failed, _ := snap.Get(metrics.HTTPReqFailed)
	if failed.Rate != 0.5 {
		t.Errorf("expected failure rate 0.5, got %v", failed.Rate)
	}
}

func TestSnapshotNamesSorted(t *testing.T) {
	s := metrics.NewSink()
	s.Add("b", 1)
	s.Add("a", 1)
	s.Add("c", 1)

	names := s.Snapshot().Names()
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Errorf("expected sorted names, got %v", names)
	}
}

func TestNewSnapshotPercentileFallback(t *testing.T) {
	snap := metrics.NewSnapshot(time.Second, metrics.MetricSnapshot{
		Name: "d", Kind: metrics.KindDistribution, Count: 3, Min: 1, Med: 2, P90: 3, P95: 4, P99: 5, Max: 6,
	})
	m, _ := snap.Get("d")
	if m.Percentile(95) != 4 || m.Percentile(100) != 6 || m.Percentile(0) != 1 {
		t.Errorf("unexpected fallback percentiles: p95=%v p100=%v p0=%v", m.Percentile(95), m.Percentile(100), m.Percentile(0))
	}
}

func TestTaggedRoundTrip(t *testing.T) {
	full := metrics.Tagged(metrics.Checks, "status is 200")
	if full != "checks{status is 200}" {
		t.Fatalf("unexpected tagged name %q", full)
	}
	name, tag, ok := metrics.SplitTagged(full)
	if !ok || name != metrics.Checks || tag != "status is 200" {
		t.Errorf("SplitTagged(%q) = %q %q %v", full, name, tag, ok)
	}
	if _, _, ok := metrics.SplitTagged("plain"); ok {
		t.Errorf("expected plain name to be untagged")
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    metrics.Kind
		wantErr bool
	}{
		{"counter", metrics.KindCounter, false},
		{"Rate", metrics.KindRate, false},
		{"trend", metrics.KindDistribution, false},
		{"distribution", metrics.KindDistribution, false},
		{"gauge", 0, true},
	}
	for _, tt := range tests {
		got, err := metrics.ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
