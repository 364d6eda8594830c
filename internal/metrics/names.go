package metrics

import "strings"

// Built-in metric names recorded by the scenario engine and the VU pool.
const (
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqFailed     = "http_req_failed"
	HTTPReqErrors     = "http_req_errors"
	Checks            = "checks"
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	DataReceived      = "data_received"
)

// Builtins lists the metrics every run declares up front.
func Builtins() map[string]Kind {
	return map[string]Kind{
		HTTPReqs:          KindCounter,
		HTTPReqDuration:   KindDistribution,
		HTTPReqFailed:     KindRate,
		Checks:            KindRate,
		Iterations:        KindCounter,
		IterationDuration: KindDistribution,
		DataReceived:      KindCounter,
	}
}

// Tagged returns the sub-metric name for tag, e.g. checks{status is 200}.
func Tagged(name, tag string) string {
	return name + "{" + tag + "}"
}

// SplitTagged is the inverse of Tagged. ok is false for untagged names.
func SplitTagged(full string) (name, tag string, ok bool) {
	open := strings.IndexByte(full, '{')
	if open <= 0 || !strings.HasSuffix(full, "}") {
		return full, "", false
	}
	return full[:open], full[open+1 : len(full)-1], true
}
