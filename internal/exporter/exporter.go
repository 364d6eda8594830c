// Package exporter serves the live metric sink in Prometheus text format.
package exporter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/torosent/stagefire/internal/metrics"
)

const namespace = "stagefire"

// quantiles exported for distributions; the values mirror the report.
var quantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Exporter exposes a metrics.Sink and the active virtual user count.
type Exporter struct {
	sink     *metrics.Sink
	registry *prometheus.Registry
}

// New builds an exporter. vus may be nil when no pool is running.
func New(sink *metrics.Sink, vus func() int) *Exporter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(&sinkCollector{sink: sink})
	if vus != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vus",
			Help:      "Active virtual users.",
		}, func() float64 { return float64(vus()) }))
	}
	return &Exporter{sink: sink, registry: reg}
}

// Handler returns the /metrics handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve listens on addr until ctx is done, then shuts the server down.
func (e *Exporter) Serve(ctx context.Context, addr string, log logrus.FieldLogger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return e.serve(ctx, ln, log)
}

func (e *Exporter) serve(ctx context.Context, ln net.Listener, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.WithField("addr", ln.Addr().String()).Info("serving live metrics")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// sinkCollector converts a snapshot into const metrics on every scrape.
// Metric names are only known at run time, so it describes nothing and is
// registered unchecked.
type sinkCollector struct {
	sink *metrics.Sink
}

func (c *sinkCollector) Describe(chan<- *prometheus.Desc) {}

func (c *sinkCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.sink.Snapshot()
	for _, full := range snap.Names() {
		m, _ := snap.Get(full)
		base, tag, _ := metrics.SplitTagged(full)
		name := sanitize(base)

		switch m.Kind {
		case metrics.KindCounter:
			ch <- prometheus.MustNewConstMetric(desc(name+"_total", base, "counter"), prometheus.CounterValue, m.Sum, tag)
		case metrics.KindRate:
			ch <- prometheus.MustNewConstMetric(desc(name+"_rate", base, "rate of true observations"), prometheus.GaugeValue, m.Rate, tag)
			ch <- prometheus.MustNewConstMetric(desc(name+"_observations_total", base, "observations"), prometheus.CounterValue, float64(m.Count), tag)
		case metrics.KindDistribution:
			qs := make(map[float64]float64, len(quantiles))
			for _, q := range quantiles {
				qs[q] = m.Percentile(q * 100)
			}
			ch <- prometheus.MustNewConstSummary(desc(name+"_milliseconds", base, "distribution"), uint64(m.Count), m.Sum, qs, tag)
		}
	}
}

// desc builds the descriptor for one family. Every family carries the tag
// label so tagged and untagged series share a label set.
func desc(name, metric, what string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", name),
		"stagefire "+metric+" "+what+".",
		[]string{"tag"}, nil,
	)
}

// sanitize maps a metric name onto the Prometheus name alphabet.
func sanitize(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
