// Package scenario defines the scripted HTTP workload a virtual user runs on
// every iteration.
//
// A [Scenario] is an ordered list of [Step] values. Each step issues exactly
// one request, evaluates its checks, records the built-in HTTP metrics plus
// the step's own tag and error metrics into a [metrics.Sink], and then sleeps
// for its think time.
//
// A step may depend on an earlier step's response: the value extracted from
// that body is bound to a variable and substituted into {{name}} placeholders.
// When the earlier step was skipped, failed at the transport level, or its
// body yields no value, the dependent step is skipped and logged while the
// remaining steps still run.
//
// # Usage
//
//	sc, err := scenario.FromConfig(cfg, scenario.Options{Sink: sink, Logger: log})
//	if err != nil {
//		return err
//	}
//	if err := sc.Declare(sink); err != nil {
//		return err
//	}
//	pool.Run(ctx, schedule, func(vu int) runner.Iteration {
//		return sc.ForUser(vu, client)
//	})
//
// [Scenario.Iterator] exposes the same execution one step at a time.
package scenario
