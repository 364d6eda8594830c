// Package runner provides the virtual-user execution engine for stagefire.
//
// A [Schedule] compiled from [Stage] values describes how many virtual users
// should be active at any instant: the target moves linearly from one stage's
// target to the next. A [Pool] keeps the number of active virtual users at the
// rounded target, re-evaluating it often enough that it never lags by more
// than one user.
//
// # Basic Usage
//
//	schedule, err := runner.NewSchedule(0, []runner.Stage{
//		{Duration: 30 * time.Second, Target: 50},
//		{Duration: time.Minute, Target: 200},
//		{Duration: 30 * time.Second, Target: 0},
//	})
//	if err != nil {
//		return err
//	}
//	pool := runner.New(runner.Options{Sink: sink, GracefulStop: 5 * time.Second})
//	result := pool.Run(ctx, schedule, func(vu int) runner.Iteration {
//		return myScenario.ForUser(vu)
//	})
//
// # Iteration Interface
//
// The [Iteration] interface defines what a virtual user executes:
//
//	type Iteration interface {
//		Iterate(ctx context.Context) error
//	}
//
// Each virtual user runs iterations back-to-back until it is retired or the
// pool stops.
//
// # Ramp-down and Stopping
//
// When the target drops, the most recently spawned virtual users are retired:
// they finish the iteration in progress and start no new one. [Pool.Draining]
// reports how many are still finishing.
//
// When the schedule ends, ctx is cancelled or [Pool.Stop] is called, the
// context handed to iterations is cancelled. Iterations observe it between
// steps and during think time; requests already in flight are left to finish.
// With [Options.GracefulStop] set, iterations get that long to complete
// before the context is cancelled at the end of the schedule.
package runner
