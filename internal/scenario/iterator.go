package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torosent/stagefire/internal/extractor"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/tracing"
	"github.com/torosent/stagefire/internal/variables"
)

// Iterator runs one iteration a step at a time. It is owned by a single
// virtual user and can be restarted with Reset.
type Iterator struct {
	s      *Scenario
	userID int
	client Doer
	vars   variables.Store
	rnd    *rand.Rand
	log    logrus.FieldLogger

	iteration int64
	started   bool
	next      int
	results   []StepResult
	err       error
	done      bool
}

// Iterator returns a fresh iterator for userID.
func (s *Scenario) Iterator(userID int, client Doer) *Iterator {
	seed := s.opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Iterator{
		s:       s,
		userID:  userID,
		client:  client,
		vars:    variables.NewStore(),
		rnd:     rand.New(rand.NewSource(seed + int64(userID))),
		log:     s.opts.Logger.WithField("vu", userID),
		results: make([]StepResult, 0, len(s.steps)),
	}
}

// Reset prepares the iterator for a new iteration. Variables bound in the
// previous iteration are discarded.
func (it *Iterator) Reset() {
	it.started = false
	it.next = 0
	it.results = it.results[:0]
	it.err = nil
	it.done = false
	it.vars.Clear()
}

// Next runs the next step and reports whether a result is available. It
// returns false once all steps ran, or when ctx is cancelled between steps.
// The trailing iteration sleep runs on the call that returns false.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	if !it.started {
		it.started = true
		it.iteration++
	}
	if err := ctx.Err(); err != nil {
		it.stop(err)
		return false
	}
	if it.next >= len(it.s.steps) {
		it.done = true
		if err := sleep(ctx, it.s.opts.IterationSleep); err != nil {
			it.err = err
		}
		return false
	}

	st := &it.s.steps[it.next]
	res, ok := it.runStep(ctx, st)
	if !ok {
		return false
	}
	it.next++
	it.results = append(it.results, res)

	if res.Status.Executed() {
		if err := sleep(ctx, st.Sleep); err != nil {
			it.stop(err)
		}
	}
	return true
}

// Result returns the most recent step result.
func (it *Iterator) Result() StepResult {
	if len(it.results) == 0 {
		return StepResult{}
	}
	return it.results[len(it.results)-1]
}

// Results returns the results of the steps run so far in this iteration.
func (it *Iterator) Results() []StepResult {
	return append([]StepResult(nil), it.results...)
}

// Err returns the cancellation error that ended the iteration early, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Iteration returns the 1-based number of the current iteration.
func (it *Iterator) Iteration() int64 {
	return it.iteration
}

// Lookup returns the result slot of an earlier step in this iteration.
func (it *Iterator) Lookup(step string) (StepResult, bool) {
	idx, ok := it.s.index[step]
	if !ok || idx >= len(it.results) {
		return StepResult{}, false
	}
	return it.results[idx], true
}

func (it *Iterator) stop(err error) {
	it.done = true
	it.err = err
}

// runStep returns false when the iteration was stopped before the request
// was issued.
func (it *Iterator) runStep(ctx context.Context, st *Step) (StepResult, bool) {
	log := it.log.WithFields(logrus.Fields{"step": st.Name, "iteration": it.iteration})

	if st.Weight < 1 && it.rnd.Float64() >= st.Weight {
		return StepResult{Step: st.Name, Status: StatusNotSelected}, true
	}

	if dep := st.DependsOn; dep != nil {
		value, reason := it.resolve(dep)
		if reason != "" {
			log.WithField("reason", reason).Debug("skipping dependent step")
			return StepResult{Step: st.Name, Status: StatusSkipped, Reason: reason}, true
		}
		it.vars.Set(dep.As, value)
	}

	if err := it.s.wait(ctx); err != nil {
		it.stop(err)
		return StepResult{}, false
	}

	req := it.s.request(st, it.vars)
	req.Attributes = append(req.Attributes, tracing.AttrVU.Int(it.userID))

	// In-flight requests are bounded by their timeout, not by the stop signal.
	resp, err := it.client.Do(context.WithoutCancel(ctx), req)

	res := StepResult{
		Step:       st.Name,
		HTTPStatus: resp.Status,
		Duration:   resp.Duration,
		Bytes:      resp.Bytes,
		body:       resp.Body,
	}
	if err != nil {
		res.Status = StatusError
		res.Err = err
		for _, name := range st.CheckNames() {
			res.Checks = append(res.Checks, CheckResult{Name: name})
		}
		log.WithError(err).WithField("class", metrics.ClassifyError(err)).Debug("request failed")
	} else {
		res.Checks = evaluateChecks(st, res)
		res.Status = StatusPassed
		for _, c := range res.Checks {
			if !c.Pass {
				res.Status = StatusFailed
				log.WithFields(logrus.Fields{"check": c.Name, "status": resp.Status}).Debug("check failed")
			}
		}
	}
	it.s.record(st, res)
	return res, true
}

// resolve returns the dependency value, or a non-empty reason when the step
// has to be skipped.
func (it *Iterator) resolve(dep *Dependency) (string, string) {
	prior, ok := it.Lookup(dep.Step)
	if !ok {
		return "", fmt.Sprintf("step %q has no result", dep.Step)
	}
	switch prior.Status {
	case StatusNotSelected:
		return "", fmt.Sprintf("step %q did not run", dep.Step)
	case StatusSkipped:
		return "", fmt.Sprintf("step %q was skipped", dep.Step)
	case StatusError:
		return "", fmt.Sprintf("step %q failed: %v", dep.Step, prior.Err)
	}
	if dep.Use != "" {
		value, ok := it.vars.Get(dep.Use)
		if !ok {
			return "", fmt.Sprintf("variable %q from %q was not bound", dep.Use, dep.Step)
		}
		return value, ""
	}
	body, _ := prior.Body()
	value, err := dep.Extractor.Extract(body, it.rnd)
	switch {
	case errors.Is(err, extractor.ErrUnparseable):
		return "", fmt.Sprintf("response of %q is not valid JSON", dep.Step)
	case errors.Is(err, extractor.ErrNotFound):
		return "", fmt.Sprintf("%s found no value in response of %q", dep.Extractor, dep.Step)
	case err != nil:
		return "", err.Error()
	}
	return value, ""
}

func evaluateChecks(st *Step, res StepResult) []CheckResult {
	checks := []CheckResult{{Name: st.statusCheckName(), Pass: st.expectsStatus(res.HTTPStatus)}}
	if st.MaxDuration > 0 {
		checks = append(checks, CheckResult{Name: st.durationCheckName(), Pass: res.Duration <= st.MaxDuration})
	}
	for _, path := range st.JSONPaths {
		checks = append(checks, CheckResult{Name: st.jsonPathCheckName(path), Pass: extractor.Exists(res.body, path)})
	}
	return checks
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IterationError reports the steps that did not pass in an iteration.
type IterationError struct {
	Failed []string
}

func (e *IterationError) Error() string {
	return "steps failed: " + strings.Join(e.Failed, ", ")
}

// User adapts an Iterator to the runner's Iteration interface.
type User struct {
	it *Iterator
}

// Iterate runs every step once. It returns the cancellation error when the
// pool stopped the iteration, or an *IterationError when steps failed.
func (u *User) Iterate(ctx context.Context) error {
	u.it.Reset()
	for u.it.Next(ctx) {
	}
	if err := u.it.Err(); err != nil {
		return err
	}
	var failed []string
	for _, r := range u.it.results {
		if r.Status == StatusFailed || r.Status == StatusError {
			failed = append(failed, r.Step)
		}
	}
	if len(failed) > 0 {
		return &IterationError{Failed: failed}
	}
	return nil
}

// Results returns the step results of the most recent iteration.
func (u *User) Results() []StepResult {
	return u.it.Results()
}
