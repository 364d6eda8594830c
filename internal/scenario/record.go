package scenario

import (
	"github.com/torosent/stagefire/internal/metrics"
)

// record appends the observations for an executed step.
func (s *Scenario) record(st *Step, res StepResult) {
	sink := s.opts.Sink
	if sink == nil {
		return
	}

	sink.Add(metrics.HTTPReqs, 1)
	if res.Status == StatusError {
		sink.Add(metrics.Tagged(metrics.HTTPReqErrors, metrics.ClassifyError(res.Err)), 1)
		sink.AddRate(metrics.HTTPReqFailed, true)
	} else {
		sink.ObserveDuration(metrics.HTTPReqDuration, res.Duration)
		sink.AddRate(metrics.HTTPReqFailed, !st.expectsStatus(res.HTTPStatus))
		if st.Tag != "" {
			sink.ObserveDuration(st.Tag, res.Duration)
		}
	}
	if res.Bytes > 0 {
		sink.Add(metrics.DataReceived, float64(res.Bytes))
	}

	for _, c := range res.Checks {
		sink.AddRate(metrics.Checks, c.Pass)
		sink.AddRate(metrics.Tagged(metrics.Checks, c.Name), c.Pass)
	}
	if st.ErrorMetric != "" {
		// Only transport errors and unexpected statuses count; body and
		// latency checks are reported through checks.
		sink.AddRate(st.ErrorMetric, res.Status == StatusError || !st.expectsStatus(res.HTTPStatus))
	}
}
