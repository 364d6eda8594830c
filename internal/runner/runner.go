package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torosent/stagefire/internal/metrics"
)

// Result captures execution summary.
type Result struct {
	Duration    time.Duration
	Iterations  int64 // completed iterations
	Interrupted int64 // iterations cut short by the stop signal
	Errors      int64 // iterations that returned an error or panicked
	Spawned     int64 // virtual users started over the run
	MaxActive   int   // highest concurrent active count
}

// Stats is a live view of the pool used for progress reporting.
type Stats struct {
	Active     int
	Draining   int
	Spawned    int64
	Iterations int64
	Elapsed    time.Duration
	Target     float64
}

// Pool runs virtual users according to a Schedule.
type Pool struct {
	opt Options

	mu        sync.Mutex
	active    []*virtualUser // most recently spawned last
	maxActive int
	start     time.Time
	schedule  *Schedule

	live        atomic.Int64 // virtual user goroutines still running
	spawned     atomic.Int64
	iterations  atomic.Int64
	interrupted atomic.Int64
	errs        atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

type virtualUser struct {
	id         int
	retire     chan struct{}
	retireOnce sync.Once
	log        logrus.FieldLogger
}

func (v *virtualUser) retireNow() {
	v.retireOnce.Do(func() { close(v.retire) })
}

func (v *virtualUser) retired() bool {
	select {
	case <-v.retire:
		return true
	default:
		return false
	}
}

func New(opt Options) *Pool {
	opt.normalize()
	return &Pool{opt: opt, stopCh: make(chan struct{})}
}

// Stop ends the run early. Virtual users observe it at their next step
// boundary like the regular end of the schedule.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// ActiveVUs returns the number of virtual users that may still start new
// iterations. Retired users finishing their last iteration are not counted.
func (p *Pool) ActiveVUs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Draining returns the number of retired virtual users still finishing their
// in-flight iteration.
func (p *Pool) Draining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drainingLocked()
}

func (p *Pool) drainingLocked() int {
	if d := int(p.live.Load()) - len(p.active); d > 0 {
		return d
	}
	return 0
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	st := Stats{Active: len(p.active), Draining: p.drainingLocked()}
	start, schedule := p.start, p.schedule
	p.mu.Unlock()

	st.Spawned = p.spawned.Load()
	st.Iterations = p.iterations.Load()
	if !start.IsZero() && schedule != nil {
		st.Elapsed = time.Since(start)
		st.Target, _ = schedule.TargetAt(st.Elapsed)
	}
	return st
}

// Run blocks until the schedule completes (or ctx is cancelled, or Stop is
// called) and every virtual user has exited.
func (p *Pool) Run(ctx context.Context, schedule *Schedule, factory Factory) Result {
	start := time.Now()
	p.mu.Lock()
	p.start = start
	p.schedule = schedule
	p.mu.Unlock()

	iterCtx, cancelIterations := context.WithCancel(ctx)
	defer cancelIterations()

	var wg sync.WaitGroup
	graceful := p.control(ctx, iterCtx, schedule, factory, &wg, start)

	if graceful && p.opt.GracefulStop > 0 {
		p.retireAll()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		timer := time.NewTimer(p.opt.GracefulStop)
		select {
		case <-done:
		case <-timer.C:
			p.opt.Logger.WithField("graceful_stop", p.opt.GracefulStop).Info("graceful stop expired, interrupting remaining iterations")
		case <-ctx.Done():
		case <-p.stopCh:
		}
		timer.Stop()
	}

	p.retireAll()
	cancelIterations()
	wg.Wait()

	p.mu.Lock()
	maxActive := p.maxActive
	p.mu.Unlock()

	return Result{
		Duration:    time.Since(start),
		Iterations:  p.iterations.Load(),
		Interrupted: p.interrupted.Load(),
		Errors:      p.errs.Load(),
		Spawned:     p.spawned.Load(),
		MaxActive:   maxActive,
	}
}

// control scales the pool until the schedule ends. It reports whether the
// schedule ran to completion, as opposed to being cancelled or stopped.
func (p *Pool) control(ctx, iterCtx context.Context, schedule *Schedule, factory Factory, wg *sync.WaitGroup, start time.Time) bool {
	if n, running := schedule.Desired(0); running {
		p.scale(iterCtx, n, factory, wg)
	}

	ticker := time.NewTicker(schedule.Resolution())
	defer ticker.Stop()
	end := time.NewTimer(schedule.Duration() - time.Since(start))
	defer end.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-p.stopCh:
			return false
		case <-end.C:
			return true
		case <-ticker.C:
			n, running := schedule.Desired(time.Since(start))
			if !running {
				return true
			}
			p.scale(iterCtx, n, factory, wg)
		}
	}
}

func (p *Pool) scale(ctx context.Context, desired int, factory Factory, wg *sync.WaitGroup) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.active) < desired {
		id := int(p.spawned.Add(1))
		v := &virtualUser{
			id:     id,
			retire: make(chan struct{}),
			log:    p.opt.Logger.WithField("vu", id),
		}
		p.active = append(p.active, v)
		p.live.Add(1)
		wg.Add(1)
		go p.runVU(ctx, v, factory(id), wg)
	}
	for len(p.active) > desired {
		last := len(p.active) - 1
		v := p.active[last]
		p.active[last] = nil
		p.active = p.active[:last]
		v.retireNow()
	}
	if len(p.active) > p.maxActive {
		p.maxActive = len(p.active)
	}
}

func (p *Pool) retireAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, v := range p.active {
		v.retireNow()
		p.active[i] = nil
	}
	p.active = p.active[:0]
}

func (p *Pool) runVU(ctx context.Context, v *virtualUser, it Iteration, wg *sync.WaitGroup) {
	defer wg.Done()
	defer p.live.Add(-1)

	if it == nil {
		v.log.Error("factory returned no iteration")
		return
	}
	for {
		if ctx.Err() != nil || v.retired() {
			return
		}
		p.iterate(ctx, v, it)
	}
}

func (p *Pool) iterate(ctx context.Context, v *virtualUser, it Iteration) {
	began := time.Now()
	err := p.safeIterate(ctx, v, it)
	elapsed := time.Since(began)

	if ctx.Err() != nil {
		p.interrupted.Add(1)
		return
	}
	p.iterations.Add(1)
	if sink := p.opt.Sink; sink != nil {
		sink.Add(metrics.Iterations, 1)
		sink.ObserveDuration(metrics.IterationDuration, elapsed)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		p.errs.Add(1)
		v.log.WithError(err).Debug("iteration failed")
	}
}

func (p *Pool) safeIterate(ctx context.Context, v *virtualUser, it Iteration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panicked: %v", r)
			v.log.WithField("panic", r).Error("recovered panic in iteration")
		}
	}()
	return it.Iterate(ctx)
}
