package runner

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torosent/stagefire/internal/metrics"
)

// Iteration executes one pass of a scenario for a virtual user. The context
// is cancelled when the pool stops; implementations check it between steps
// and during think time, never inside an in-flight request.
type Iteration interface {
	Iterate(ctx context.Context) error
}

// IterationFunc adapts a function to the Iteration interface.
type IterationFunc func(ctx context.Context) error

func (f IterationFunc) Iterate(ctx context.Context) error { return f(ctx) }

// Factory builds the iteration run by a newly spawned virtual user. vu is a
// 1-based identifier unique within the run.
type Factory func(vu int) Iteration

// Options configure the Pool.
type Options struct {
	GracefulStop time.Duration      // time in-flight iterations get to finish at schedule end (0 stops at once)
	Sink         *metrics.Sink      // receives iterations and iteration_duration (optional)
	Logger       logrus.FieldLogger // optional, discards when nil
}

func (o *Options) normalize() {
	if o.GracefulStop < 0 {
		o.GracefulStop = 0
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}
}
