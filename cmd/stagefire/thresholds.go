package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/threshold"
)

const defaultThresholdInterval = time.Second

// watchThresholds evaluates abort-on-fail rules every interval and calls stop
// once one fails. The failing result is delivered on the returned channel,
// which is closed when the watcher exits.
func watchThresholds(ctx context.Context, ev *threshold.Evaluator, sink *metrics.Sink, interval time.Duration, stop func(), log logrus.FieldLogger) <-chan threshold.Result {
	if interval <= 0 {
		interval = defaultThresholdInterval
	}
	out := make(chan threshold.Result, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, failed := ev.EvaluateAbort(sink.Snapshot())
				if !failed {
					continue
				}
				log.WithFields(logrus.Fields{
					"threshold": res.Rule.String(),
					"actual":    res.Actual,
				}).Warn("threshold failed, stopping run")
				out <- res
				stop()
				return
			}
		}
	}()
	return out
}
