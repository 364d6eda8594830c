package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	gometrics "github.com/rcrowley/go-metrics"
)

const (
	// Distribution samples are stored in thousandths so sub-millisecond
	// latencies keep three decimals of precision.
	distributionScale = 1000
	// Track samples from 0.001 up to one hour expressed in milliseconds.
	histogramLowest  = 1
	histogramHighest = 3_600_000 * distributionScale
	histogramSigFigs = 3
)

type counterMetric struct {
	samples gometrics.Counter
	mu      sync.Mutex
	sum     float64
}

func newCounter() *counterMetric {
	return &counterMetric{samples: gometrics.NewCounter()}
}

func (c *counterMetric) kind() Kind { return KindCounter }

func (c *counterMetric) record(v float64) {
	c.mu.Lock()
	c.sum += v
	c.mu.Unlock()
	c.samples.Inc(1)
}

func (c *counterMetric) snapshot(elapsed time.Duration) MetricSnapshot {
	c.mu.Lock()
	sum := c.sum
	c.mu.Unlock()
	ms := MetricSnapshot{
		Kind:  KindCounter,
		Count: c.samples.Count(),
		Sum:   sum,
	}
	if elapsed > 0 {
		ms.Rate = sum / elapsed.Seconds()
	}
	return ms
}

type rateMetric struct {
	trues gometrics.Counter
	total gometrics.Counter
}

func newRate() *rateMetric {
	return &rateMetric{trues: gometrics.NewCounter(), total: gometrics.NewCounter()}
}

func (r *rateMetric) kind() Kind { return KindRate }

func (r *rateMetric) record(v float64) {
	if v != 0 {
		r.trues.Inc(1)
	}
	r.total.Inc(1)
}

func (r *rateMetric) snapshot(time.Duration) MetricSnapshot {
	// Read total first: a concurrent writer can only make passes lag, never
	// exceed the total that was read.
	total := r.total.Count()
	passes := r.trues.Count()
	if passes > total {
		passes = total
	}
	ms := MetricSnapshot{
		Kind:   KindRate,
		Count:  total,
		Sum:    float64(passes),
		Passes: passes,
		Fails:  total - passes,
	}
	if total > 0 {
		ms.Rate = float64(passes) / float64(total)
	}
	return ms
}

type distributionMetric struct {
	mu    sync.Mutex
	hist  *hdrhistogram.Histogram
	count int64
	sum   float64
	min   float64
	max   float64
}

func newDistribution() *distributionMetric {
	return &distributionMetric{
		hist: hdrhistogram.New(histogramLowest, histogramHighest, histogramSigFigs),
	}
}

func (d *distributionMetric) kind() Kind { return KindDistribution }

func (d *distributionMetric) record(v float64) {
	scaled := int64(math.Round(v * distributionScale))
	if scaled < d.hist.LowestTrackableValue() {
		scaled = d.hist.LowestTrackableValue()
	}
	if scaled > d.hist.HighestTrackableValue() {
		scaled = d.hist.HighestTrackableValue()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.hist.RecordValue(scaled)
	if d.count == 0 || v < d.min {
		d.min = v
	}
	if d.count == 0 || v > d.max {
		d.max = v
	}
	d.count++
	d.sum += v
}

func (d *distributionMetric) snapshot(time.Duration) MetricSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	ms := MetricSnapshot{
		Kind:  KindDistribution,
		Count: d.count,
		Sum:   d.sum,
		Min:   d.min,
		Max:   d.max,
		hist:  hdrhistogram.Import(d.hist.Export()),
	}
	if d.count > 0 {
		ms.Avg = d.sum / float64(d.count)
		ms.Med = ms.Percentile(50)
		ms.P90 = ms.Percentile(90)
		ms.P95 = ms.Percentile(95)
		ms.P99 = ms.Percentile(99)
	}
	return ms
}
