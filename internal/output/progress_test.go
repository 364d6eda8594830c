package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torosent/stagefire/internal/metrics"
)

// lockedBuffer lets the test read output while the reporter goroutine writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressLine(t *testing.T) {
	sink := metrics.NewSink()
	for i := 0; i < 10; i++ {
		sink.Add(metrics.HTTPReqs, 1)
		sink.AddRate(metrics.HTTPReqFailed, i < 3)
		sink.ObserveDuration(metrics.HTTPReqDuration, 40*time.Millisecond)
	}

	reporter := NewProgressReporter(sink, func() int { return 4 }, time.Second, nil)
	defer reporter.ticker.Stop()

	line := reporter.line(2 * time.Second)
	for _, want := range []string{"VUs: 4", "Requests: 10", "Failures: 3", "RPS: 5.0", "P95 40.0ms"} {
		if !strings.Contains(line, want) {
			t.Errorf("progress line %q missing %q", line, want)
		}
	}
}

func TestProgressReporterBasic(t *testing.T) {
	reporter := NewProgressReporter(metrics.NewSink(), nil, 100*time.Millisecond, nil)
	if reporter == nil {
		t.Fatal("Expected non-nil reporter")
	}
	// Stop without Start is a no-op.
	reporter.Stop()
}

func TestProgressReporterFormatting(t *testing.T) {
	sink := metrics.NewSink()
	sink.Add(metrics.HTTPReqs, 1)

	var buf lockedBuffer
	reporter := NewProgressReporter(sink, func() int { return 1 }, 20*time.Millisecond, &buf)
	reporter.Start()
	reporter.Start()

	time.Sleep(100 * time.Millisecond)
	reporter.Stop()
	reporter.Stop()

	output := buf.String()
	if !strings.Contains(output, "Requests: 1") {
		t.Errorf("Expected 'Requests: 1' in progress output, got %q", output)
	}
	if !strings.HasSuffix(output, "\n") {
		t.Error("Expected Stop to terminate the progress line")
	}
}
