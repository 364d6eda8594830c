package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/stagefire/internal/metrics"
)

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	sink     *metrics.Sink
	vus      func() int
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given
// interval. vus reports the number of active virtual users and may be nil.
func NewProgressReporter(sink *metrics.Sink, vus func() int, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if vus == nil {
		vus = func() int { return 0 }
	}
	return &ProgressReporter{
		sink:     sink,
		vus:      vus,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and terminates the progress line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+p.line(time.Since(p.start)))
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line(elapsed time.Duration) string {
	snap := p.sink.Snapshot()
	reqs, _ := snap.Get(metrics.HTTPReqs)
	failed, _ := snap.Get(metrics.HTTPReqFailed)
	dur, _ := snap.Get(metrics.HTTPReqDuration)

	rps := 0.0
	if elapsed > 0 {
		rps = reqs.Sum / elapsed.Seconds()
	}
	return fmt.Sprintf("[%s] VUs: %d | Requests: %d | Failures: %d | RPS: %.1f | P95 %.1fms",
		elapsed.Round(time.Second), p.vus(), int64(reqs.Sum), failed.Passes, rps, dur.P95)
}
