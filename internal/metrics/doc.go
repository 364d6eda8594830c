// Package metrics provides the thread-safe metric sink that virtual users
// append observations to during a load test run.
//
// The package aggregates three kinds of metrics, identified by a unique name:
//   - [KindCounter]: accumulated values such as request counts or bytes received
//   - [KindRate]: boolean observations reported as the share of true values
//   - [KindDistribution]: numeric samples reported as avg, min, max and percentiles
//
// # Sink
//
// The central [Sink] type is owned by a run and shared with every virtual user:
//
//	sink := metrics.NewSink()
//	sink.Start()
//
//	sink.Add(metrics.HTTPReqs, 1)
//	sink.AddRate(metrics.HTTPReqFailed, resp.Status >= 400)
//	sink.ObserveDuration(metrics.HTTPReqDuration, latency)
//
//	snap := sink.Snapshot()
//
// Metrics are created lazily on first use. [Sink.Declare] fixes a metric's kind
// up front so it appears in snapshots even when nothing was recorded.
//
// # Snapshots
//
// [Sink.Snapshot] returns a deep copy. Distribution snapshots carry their own
// copy of the histogram, so [MetricSnapshot.Percentile] keeps working after the
// run has moved on or been frozen.
//
// # Thread Safety
//
// Every metric has its own lock and rate metrics use lock-free counters, so
// writers only contend when they record into the same metric. No update is
// lost under concurrent use.
package metrics
