package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/exporter"
	"github.com/torosent/stagefire/internal/httpclient"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/output"
	"github.com/torosent/stagefire/internal/runner"
	"github.com/torosent/stagefire/internal/scenario"
	"github.com/torosent/stagefire/internal/threshold"
	"github.com/torosent/stagefire/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

// errThresholdsFailed signals exit status 1 without an error message; the
// report already lists the failing thresholds.
var errThresholdsFailed = errors.New("thresholds failed")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		if !errors.Is(err, errThresholdsFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	runID := ulid.Make().String()
	log := logger.WithField("run_id", runID)

	sink := metrics.NewSink()
	scen, err := scenario.FromConfig(cfg, scenario.Options{Sink: sink, Logger: log})
	if err != nil {
		return err
	}
	if err := scen.Declare(sink); err != nil {
		return err
	}
	rules, err := cfg.ThresholdRules(sink.Known())
	if err != nil {
		return err
	}
	evaluator := threshold.NewEvaluator(rules)

	schedule, err := runner.NewSchedule(cfg.StartVUs, toRunnerStages(cfg.Stages))
	if err != nil {
		return err
	}

	tp, err := tracing.Init(ctx, cfg.Tracing, runID)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	client := httpclient.New(httpclient.Options{
		Timeout:         cfg.Timeout,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		RequestIDHeader: cfg.RequestIDHeader,
		Tracer:          tp.Tracer(),
		Propagate:       tp.ShouldPropagate(),
	})
	defer client.CloseIdleConnections()

	pool := runner.New(runner.Options{
		GracefulStop: cfg.GracefulStop,
		Sink:         sink,
		Logger:       log,
	})

	sidecarCtx, stopSidecars := context.WithCancel(ctx)
	defer stopSidecars()

	if cfg.MetricsAddr != "" {
		exp := exporter.New(sink, pool.ActiveVUs)
		go func() {
			if err := exp.Serve(sidecarCtx, cfg.MetricsAddr, log); err != nil {
				log.WithError(err).Error("metrics endpoint failed")
			}
		}()
	}

	var aborts <-chan threshold.Result
	if evaluator.HasAbortRules() {
		aborts = watchThresholds(sidecarCtx, evaluator, sink, cfg.ThresholdInterval, pool.Stop, log)
	}

	var progress *output.ProgressReporter
	if cfg.Progress {
		progress = output.NewProgressReporter(sink, pool.ActiveVUs, progressInterval, stderr)
		progress.Start()
	}

	log.WithFields(logrus.Fields{
		"steps":     len(scen.Steps()),
		"stages":    len(schedule.Stages()),
		"start_vus": schedule.StartTarget(),
		"max_vus":   schedule.MaxTarget(),
		"duration":  schedule.Duration(),
	}).Info("starting run")

	started := time.Now()
	sink.Start()
	result := pool.Run(ctx, schedule, func(vu int) runner.Iteration {
		return scen.ForUser(vu, client)
	})
	sink.Freeze()

	if progress != nil {
		progress.Stop()
	}
	stopSidecars()

	meta := output.Meta{
		RunID:         runID,
		Started:       started,
		Duration:      result.Duration,
		MaxVUs:        result.MaxActive,
		Iterations:    result.Iterations,
		Interrupted:   result.Interrupted,
		CustomMetrics: scen.CustomMetrics(),
		ErrorMetric:   scen.ErrorMetric(),
		Color:         !cfg.NoColor,
	}
	if aborts != nil {
		if res, ok := <-aborts; ok {
			meta.Aborted = "threshold " + res.Rule.String() + " failed"
		}
	}
	if ctx.Err() != nil && meta.Aborted == "" {
		meta.Aborted = "interrupted"
	}

	log.WithFields(logrus.Fields{
		"iterations":  result.Iterations,
		"interrupted": result.Interrupted,
		"errors":      result.Errors,
		"elapsed":     result.Duration.Round(time.Millisecond),
	}).Info("run finished")

	snap := sink.Snapshot()
	outcome := evaluator.Evaluate(snap)
	report := output.Render(snap, outcome, meta)

	fmt.Fprint(stdout, report.Text)
	if cfg.SummaryFile != "" {
		if err := writeSummaryFile(cfg.SummaryFile, cfg.SummaryFormat, report.Summary); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		log.WithField("path", cfg.SummaryFile).Info("summary written")
	}

	if !outcome.Pass {
		return errThresholdsFailed
	}
	return nil
}

func toRunnerStages(stages []config.Stage) []runner.Stage {
	out := make([]runner.Stage, len(stages))
	for i, st := range stages {
		out[i] = runner.Stage{Duration: st.Duration, Target: st.Target}
	}
	return out
}
