// Package threshold parses and evaluates pass/fail rules over aggregated
// metrics.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/torosent/stagefire/internal/metrics"
)

// Rule is a declarative assertion over one aggregate of one metric.
type Rule struct {
	Metric      string  // e.g. "http_req_duration", "errors", "checks{status is 200}"
	Aggregate   string  // normalized: "avg", "min", "max", "med", "p(95)", "rate", "count", ...
	Operator    string  // "<", "<=", ">", ">=", "==", "!="
	Value       float64 // limit, milliseconds for durations
	Raw         string  // original text for display
	AbortOnFail bool    // stop the run as soon as the rule fails during live evaluation
}

// String returns the canonical form used as the rule's key in reports.
func (r Rule) String() string {
	return fmt.Sprintf("%s:%s %s %s", r.Metric, r.Aggregate, r.Operator, strconv.FormatFloat(r.Value, 'f', -1, 64))
}

// Result represents the outcome of evaluating a rule.
type Result struct {
	Rule    Rule
	Actual  float64
	Pass    bool
	Message string
}

// Outcome is the result of evaluating every rule against one snapshot.
type Outcome struct {
	Results []Result
	Pass    bool // AND of all results; true when there are no rules
}

// Failed returns the results that did not pass.
func (o Outcome) Failed() []Result {
	var failed []Result
	for _, r := range o.Results {
		if !r.Pass {
			failed = append(failed, r)
		}
	}
	return failed
}

// Evaluator evaluates rules against metric snapshots. It holds no mutable
// state, so identical snapshots and rules always produce identical outcomes.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator creates a new evaluator over a copy of rules.
func NewEvaluator(rules []Rule) *Evaluator {
	return &Evaluator{rules: append([]Rule(nil), rules...)}
}

// Rules returns a copy of the evaluator's rules.
func (e *Evaluator) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// HasAbortRules reports whether any rule should be evaluated during the run.
func (e *Evaluator) HasAbortRules() bool {
	for _, r := range e.rules {
		if r.AbortOnFail {
			return true
		}
	}
	return false
}

// Evaluate checks all rules against snap.
func (e *Evaluator) Evaluate(snap metrics.Snapshot) Outcome {
	out := Outcome{Pass: true}
	if len(e.rules) == 0 {
		return out
	}
	out.Results = make([]Result, 0, len(e.rules))
	for _, r := range e.rules {
		res := evaluateOne(r, snap)
		out.Results = append(out.Results, res)
		out.Pass = out.Pass && res.Pass
	}
	return out
}

// EvaluateAbort evaluates only the abort-on-fail rules and returns the first
// failing one. Rules over metrics with no observations yet are not evaluated.
func (e *Evaluator) EvaluateAbort(snap metrics.Snapshot) (Result, bool) {
	for _, r := range e.rules {
		if !r.AbortOnFail {
			continue
		}
		if m, ok := snap.Get(r.Metric); ok && m.Count == 0 {
			continue
		}
		res := evaluateOne(r, snap)
		if !res.Pass {
			return res, true
		}
	}
	return Result{}, false
}

func evaluateOne(r Rule, snap metrics.Snapshot) Result {
	actual, err := extractValue(r, snap)
	if err != nil {
		return Result{
			Rule:    r,
			Pass:    false,
			Message: fmt.Sprintf("✗ %s: %v", r.display(), err),
		}
	}

	pass := compareValues(actual, r.Operator, r.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}
	return Result{
		Rule:    r,
		Actual:  actual,
		Pass:    pass,
		Message: fmt.Sprintf("%s %s: %.2f %s %.2f", status, r.display(), actual, r.Operator, r.Value),
	}
}

func (r Rule) display() string {
	if r.Raw != "" {
		return r.Raw
	}
	return r.String()
}

func extractValue(r Rule, snap metrics.Snapshot) (float64, error) {
	m, ok := snap.Get(r.Metric)
	if !ok {
		return 0, fmt.Errorf("unknown metric %q", r.Metric)
	}
	if !AggregateSupported(m.Kind, r.Aggregate) {
		return 0, fmt.Errorf("aggregate %q is not supported by %s metric %q", r.Aggregate, m.Kind, r.Metric)
	}

	if p, ok := percentileOf(r.Aggregate); ok {
		return m.Percentile(p), nil
	}

	switch m.Kind {
	case metrics.KindDistribution:
		switch r.Aggregate {
		case "avg":
			return m.Avg, nil
		case "min":
			return m.Min, nil
		case "max":
			return m.Max, nil
		case "med":
			return m.Med, nil
		case "count":
			return float64(m.Count), nil
		case "sum":
			return m.Sum, nil
		}
	case metrics.KindRate:
		switch r.Aggregate {
		case "rate":
			return m.Rate, nil
		case "count":
			return float64(m.Count), nil
		case "passes":
			return float64(m.Passes), nil
		case "fails":
			return float64(m.Fails), nil
		}
	case metrics.KindCounter:
		switch r.Aggregate {
		// A counter's count is its accumulated value.
		case "count", "sum":
			return m.Sum, nil
		case "rate":
			return m.Rate, nil
		}
	}
	return 0, fmt.Errorf("unsupported aggregate %q for metric %q", r.Aggregate, r.Metric)
}

var kindAggregates = map[metrics.Kind][]string{
	metrics.KindDistribution: {"avg", "min", "max", "med", "count", "sum"},
	metrics.KindRate:         {"rate", "count", "passes", "fails"},
	metrics.KindCounter:      {"count", "sum", "rate"},
}

// AggregateSupported reports whether aggregate can be computed for kind.
func AggregateSupported(kind metrics.Kind, aggregate string) bool {
	if _, ok := percentileOf(aggregate); ok {
		return kind == metrics.KindDistribution
	}
	for _, a := range kindAggregates[kind] {
		if a == aggregate {
			return true
		}
	}
	return false
}

// ValidateAgainst reports every rule that references a metric missing from
// known or an aggregate its kind cannot provide. Issues name the offending
// rule so configuration errors can be traced back to the file.
func ValidateAgainst(rules []Rule, known map[string]metrics.Kind) []string {
	var issues []string
	for _, r := range rules {
		kind, ok := known[r.Metric]
		if !ok {
			issues = append(issues, fmt.Sprintf("thresholds[%s]: unknown metric %q", r.Metric, r.Metric))
			continue
		}
		if !AggregateSupported(kind, r.Aggregate) {
			issues = append(issues, fmt.Sprintf("thresholds[%s]: aggregate %q is not supported by %s metrics", r.Metric, r.Aggregate, kind))
		}
	}
	return issues
}

var (
	// metric:aggregate operator value[unit], e.g. "http_req_duration:p95 < 500ms"
	rulePattern = regexp.MustCompile(`^([A-Za-z0-9_.]+(?:\{[^}]*\})?)\s*:\s*([A-Za-z0-9().]+)\s*([<>=!]+)\s*(-?[0-9.]+)\s*([a-z]*)$`)
	// aggregate operator value[unit], e.g. "p(95)<2000"
	exprPattern = regexp.MustCompile(`^([A-Za-z0-9().]+)\s*([<>=!]+)\s*(-?[0-9.]+)\s*([a-z]*)$`)

	percentilePattern = regexp.MustCompile(`^p\(?([0-9]+(?:\.[0-9]+)?)\)?$`)
)

// Parse parses a rule string of the form "metric:aggregate operator value".
// Supported formats:
//   - "http_req_duration:p95 < 500"   (latency percentile in ms)
//   - "http_req_duration:p(99.9) < 2s" (duration units ms, s, m)
//   - "http_req_duration:avg < 200"   (average latency in ms)
//   - "http_req_failed:rate < 0.01"   (failure rate as decimal)
//   - "http_reqs:count > 100"         (total requests)
func Parse(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rule{}, fmt.Errorf("empty threshold string")
	}
	m := rulePattern.FindStringSubmatch(s)
	if m == nil {
		return Rule{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'http_req_duration:p95 < 500')", s)
	}
	r, err := build(m[1], m[2], m[3], m[4], m[5])
	if err != nil {
		return Rule{}, err
	}
	r.Raw = s
	return r, nil
}

// ParseExpression parses an expression bound to metric, such as "p(95)<2000"
// or "rate<0.1".
func ParseExpression(metric, expr string) (Rule, error) {
	metric = strings.TrimSpace(metric)
	expr = strings.TrimSpace(expr)
	if metric == "" {
		return Rule{}, fmt.Errorf("threshold metric cannot be empty")
	}
	if expr == "" {
		return Rule{}, fmt.Errorf("empty threshold expression for %q", metric)
	}
	m := exprPattern.FindStringSubmatch(expr)
	if m == nil {
		return Rule{}, fmt.Errorf("invalid threshold expression %q for %q (expected e.g. 'p(95)<2000' or 'rate<0.1')", expr, metric)
	}
	r, err := build(metric, m[1], m[2], m[3], m[4])
	if err != nil {
		return Rule{}, err
	}
	r.Raw = metric + ": " + expr
	return r, nil
}

// ParseMultiple parses multiple rule strings and joins every error.
func ParseMultiple(rules []string) ([]Rule, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	result := make([]Rule, 0, len(rules))
	var errs []string
	for i, s := range rules {
		r, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, r)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errs, "; "))
	}
	return result, nil
}

// ParseMap parses k6-style thresholds keyed by metric name. Metrics are
// processed in lexical order so the resulting rule order is stable.
func ParseMap(exprs map[string][]string) ([]Rule, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(exprs))
	for name := range exprs {
		names = append(names, name)
	}
	sort.Strings(names)

	var result []Rule
	var errs []string
	for _, name := range names {
		for i, expr := range exprs[name] {
			r, err := ParseExpression(name, expr)
			if err != nil {
				errs = append(errs, fmt.Sprintf("thresholds[%s][%d]: %v", name, i, err))
				continue
			}
			result = append(result, r)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errs, "; "))
	}
	return result, nil
}

func build(metric, aggregate, operator, value, unit string) (Rule, error) {
	agg, err := normalizeAggregate(aggregate)
	if err != nil {
		return Rule{}, err
	}
	if !isValidOperator(operator) {
		return Rule{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==, !=)", operator)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid threshold value %q: %v", value, err)
	}
	scale, err := unitScale(unit)
	if err != nil {
		return Rule{}, err
	}
	return Rule{
		Metric:    metric,
		Aggregate: agg,
		Operator:  operator,
		Value:     v * scale,
	}, nil
}

func normalizeAggregate(aggregate string) (string, error) {
	a := strings.ToLower(strings.TrimSpace(aggregate))
	if m := percentilePattern.FindStringSubmatch(a); m != nil {
		p, err := strconv.ParseFloat(m[1], 64)
		if err != nil || p < 0 || p > 100 {
			return "", fmt.Errorf("invalid percentile %q (must be between 0 and 100)", aggregate)
		}
		return "p(" + strconv.FormatFloat(p, 'f', -1, 64) + ")", nil
	}
	switch a {
	case "mean":
		return "avg", nil
	case "median":
		return "med", nil
	case "avg", "min", "max", "med", "count", "sum", "rate", "passes", "fails":
		return a, nil
	}
	return "", fmt.Errorf("unsupported aggregate: %q (supported: avg, min, max, med, p(N), rate, count, sum, passes, fails)", aggregate)
}

func percentileOf(aggregate string) (float64, bool) {
	if !strings.HasPrefix(aggregate, "p(") || !strings.HasSuffix(aggregate, ")") {
		return 0, false
	}
	p, err := strconv.ParseFloat(aggregate[2:len(aggregate)-1], 64)
	if err != nil {
		return 0, false
	}
	return p, true
}

func unitScale(unit string) (float64, error) {
	switch unit {
	case "", "ms":
		return 1, nil
	case "s":
		return 1000, nil
	case "m":
		return 60_000, nil
	default:
		return 0, fmt.Errorf("unsupported threshold unit %q (supported: ms, s, m)", unit)
	}
}

func isValidOperator(operator string) bool {
	switch operator {
	case "<", "<=", ">", ">=", "==", "!=":
		return true
	}
	return false
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	case "!=":
		return math.Abs(actual-expected) >= epsilon
	default:
		return false
	}
}
