package config

import (
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/threshold"
)

type Config struct {
	BaseURL           string            `mapstructure:"base_url"`
	StartVUs          int               `mapstructure:"start_vus"`
	Stages            []Stage           `mapstructure:"stages"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	GracefulStop      time.Duration     `mapstructure:"graceful_stop"`
	MaxRPS            int               `mapstructure:"max_rps"`
	Headers           map[string]string `mapstructure:"headers"`
	Steps             []Step            `mapstructure:"steps"`
	IterationSleep    time.Duration     `mapstructure:"iteration_sleep"`
	Metrics           []MetricDecl      `mapstructure:"metrics"`
	Thresholds        Thresholds        `mapstructure:"thresholds"`
	AbortOnFail       bool              `mapstructure:"abort_on_fail"`
	ThresholdInterval time.Duration     `mapstructure:"threshold_interval"`
	SummaryFile       string            `mapstructure:"summary_file"`
	SummaryFormat     string            `mapstructure:"summary_format"`
	NoColor           bool              `mapstructure:"no_color"`
	Progress          bool              `mapstructure:"progress"`
	LogLevel          string            `mapstructure:"log_level"`
	LogFormat         string            `mapstructure:"log_format"`
	RequestIDHeader   string            `mapstructure:"request_id_header"`
	MaxBodyBytes      int64             `mapstructure:"max_body_bytes"`
	MetricsAddr       string            `mapstructure:"metrics_addr"`
	Tracing           TracingConfig     `mapstructure:"tracing"`
	ConfigFile        string            `mapstructure:"-"`
}

type Stage struct {
	Duration time.Duration `mapstructure:"duration"`
	Target   int           `mapstructure:"target"`
}

type Step struct {
	Name         string            `mapstructure:"name"`
	Method       string            `mapstructure:"method"`
	URL          string            `mapstructure:"url"`
	Path         string            `mapstructure:"path"`
	Headers      map[string]string `mapstructure:"headers"`
	Body         string            `mapstructure:"body"`
	ExpectStatus []int             `mapstructure:"expect_status"`
	Checks       StepChecks        `mapstructure:"checks"`
	Tag          string            `mapstructure:"tag"`          // distribution receiving this step's latency
	ErrorMetric  string            `mapstructure:"error_metric"` // rate receiving this step's failures
	Sleep        time.Duration     `mapstructure:"sleep"`
	Weight       float64           `mapstructure:"weight"` // probability the step runs in an iteration
	DependsOn    *Dependency       `mapstructure:"depends_on"`
}

type StepChecks struct {
	MaxDuration time.Duration `mapstructure:"max_duration"`
	JSONPath    []string      `mapstructure:"json_path"`
}

type PickMode string

const (
	PickFirst  PickMode = "first"
	PickRandom PickMode = "random"
)

// Dependency derives a variable from an earlier step's response body. With
// Use set, the step instead reuses a variable another earlier step already
// extracted from Step's response.
type Dependency struct {
	Step     string   `mapstructure:"step"`
	JSONPath string   `mapstructure:"json_path"`
	Regex    string   `mapstructure:"regex"`
	Pick     PickMode `mapstructure:"pick"`
	Use      string   `mapstructure:"use"`
	As       string   `mapstructure:"as"`
}

type MetricDecl struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"`
}

// Thresholds accepts both rule strings ("http_req_duration:p95 < 500") and
// expressions keyed by metric ({"errors": ["rate<0.1"]}).
type Thresholds struct {
	Rules    []string            `mapstructure:"rules"`
	ByMetric map[string][]string `mapstructure:"by_metric"`
}

func (t Thresholds) Empty() bool {
	return len(t.Rules) == 0 && len(t.ByMetric) == 0
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" (default) or "http"
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// EndpointEnv names the standard OTLP endpoint variable consulted when no
// endpoint is configured.
const EndpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"

// ResolvedEndpoint returns the configured endpoint, falling back to
// OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) ResolvedEndpoint() string {
	if ep := strings.TrimSpace(t.Endpoint); ep != "" {
		return ep
	}
	return strings.TrimSpace(os.Getenv(EndpointEnv))
}

// Enabled reports whether an exporter endpoint is configured or set in the
// environment.
func (t TracingConfig) Enabled() bool {
	return t.ResolvedEndpoint() != ""
}

// ShouldPropagate defaults to true when tracing is enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if c.StartVUs < 0 {
		issues = append(issues, "start_vus: must be >= 0")
	}
	issues = append(issues, validateStages(c.Stages)...)

	if c.Timeout < 0 {
		issues = append(issues, "timeout: must be >= 0")
	}
	if c.GracefulStop < 0 {
		issues = append(issues, "graceful_stop: must be >= 0")
	}
	if c.MaxRPS < 0 {
		issues = append(issues, "max_rps: must be >= 0")
	}
	if c.IterationSleep < 0 {
		issues = append(issues, "iteration_sleep: must be >= 0")
	}
	if c.ThresholdInterval < 0 {
		issues = append(issues, "threshold_interval: must be >= 0")
	}
	if c.MaxBodyBytes < 0 {
		issues = append(issues, "max_body_bytes: must be >= 0")
	}
	for key := range c.Headers {
		if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "\r\n") {
			issues = append(issues, fmt.Sprintf("headers: invalid header key %q", key))
		}
	}

	issues = append(issues, validateSteps(c.Steps, c.BaseURL)...)
	issues = append(issues, validateMetricDecls(c.Metrics)...)

	switch strings.ToLower(c.SummaryFormat) {
	case "", "json", "yaml", "yml":
	default:
		issues = append(issues, fmt.Sprintf("summary_format: must be 'json' or 'yaml', got %q", c.SummaryFormat))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("log_format: must be 'text' or 'json', got %q", c.LogFormat))
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			issues = append(issues, fmt.Sprintf("log_level: %v", err))
		}
	}

	issues = append(issues, validateTracing(c.Tracing)...)
	issues = append(issues, c.thresholdSyntaxIssues()...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateStages(stages []Stage) []string {
	if len(stages) == 0 {
		return []string{"stages: at least one stage is required (or use --vus and --duration)"}
	}
	var issues []string
	for idx, st := range stages {
		if st.Duration <= 0 {
			issues = append(issues, fmt.Sprintf("stages[%d].duration: must be > 0", idx))
		}
		if st.Target < 0 {
			issues = append(issues, fmt.Sprintf("stages[%d].target: must be >= 0", idx))
		}
	}
	return issues
}

var methodToken = regexp.MustCompile("^[!#$%&'*+.^_`|~0-9A-Za-z-]+$")

func validateSteps(steps []Step, baseURL string) []string {
	if len(steps) == 0 {
		return []string{"steps: at least one step is required"}
	}
	var issues []string
	seen := map[string]int{}
	bound := map[string]string{} // variable -> step whose response it came from
	for idx, st := range steps {
		prefix := fmt.Sprintf("steps[%d]", idx)
		name := strings.TrimSpace(st.Name)
		if name == "" {
			issues = append(issues, prefix+".name: is required")
		} else if prev, ok := seen[name]; ok {
			issues = append(issues, fmt.Sprintf("%s.name: duplicate name %q also defined at index %d", prefix, name, prev))
		} else {
			seen[name] = idx
		}

		if st.Method != "" && !methodToken.MatchString(st.Method) {
			issues = append(issues, fmt.Sprintf("%s.method: invalid method %q", prefix, st.Method))
		}
		switch {
		case strings.TrimSpace(st.URL) == "" && strings.TrimSpace(st.Path) == "":
			issues = append(issues, prefix+": url or path is required")
		case strings.TrimSpace(st.URL) != "" && strings.TrimSpace(st.Path) != "":
			issues = append(issues, prefix+": url and path are mutually exclusive")
		case strings.TrimSpace(st.URL) == "" && strings.TrimSpace(baseURL) == "":
			issues = append(issues, prefix+".path: requires base_url")
		}
		for key := range st.Headers {
			if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "\r\n") {
				issues = append(issues, fmt.Sprintf("%s.headers: invalid header key %q", prefix, key))
			}
		}
		for i, code := range st.ExpectStatus {
			if code < 100 || code > 599 {
				issues = append(issues, fmt.Sprintf("%s.expect_status[%d]: %d is not a valid HTTP status", prefix, i, code))
			}
		}
		if st.Checks.MaxDuration < 0 {
			issues = append(issues, prefix+".checks.max_duration: must be >= 0")
		}
		for i, path := range st.Checks.JSONPath {
			if strings.TrimSpace(path) == "" {
				issues = append(issues, fmt.Sprintf("%s.checks.json_path[%d]: cannot be empty", prefix, i))
			}
		}
		if st.Sleep < 0 {
			issues = append(issues, prefix+".sleep: must be >= 0")
		}
		if st.Weight <= 0 || st.Weight > 1 {
			issues = append(issues, fmt.Sprintf("%s.weight: must be in (0, 1], got %g", prefix, st.Weight))
		}
		if dep := st.DependsOn; dep != nil {
			issues = append(issues, validateDependency(prefix+".depends_on", *dep, seen, bound, name)...)
			if v := dep.boundVariable(); v != "" {
				bound[v] = strings.TrimSpace(dep.Step)
			}
		}
	}
	return issues
}

func (d Dependency) boundVariable() string {
	if as := strings.TrimSpace(d.As); as != "" {
		return as
	}
	return strings.TrimSpace(d.Use)
}

// validateDependency requires the referenced step to be declared earlier, so
// its result is always available when the dependent step runs. A reused
// variable must have been extracted from that step by an earlier dependency.
func validateDependency(prefix string, dep Dependency, earlier map[string]int, bound map[string]string, self string) []string {
	var issues []string
	ref := strings.TrimSpace(dep.Step)
	switch {
	case ref == "":
		issues = append(issues, prefix+".step: is required")
	case ref == self:
		issues = append(issues, fmt.Sprintf("%s.step: step %q cannot depend on itself", prefix, ref))
	default:
		if _, ok := earlier[ref]; !ok {
			issues = append(issues, fmt.Sprintf("%s.step: unknown step %q (must be declared earlier)", prefix, ref))
		}
	}

	hasPath := strings.TrimSpace(dep.JSONPath) != ""
	hasRegex := strings.TrimSpace(dep.Regex) != ""
	if use := strings.TrimSpace(dep.Use); use != "" {
		if hasPath || hasRegex {
			issues = append(issues, prefix+": use cannot be combined with json_path or regex")
		}
		if from, ok := bound[use]; !ok {
			issues = append(issues, fmt.Sprintf("%s.use: variable %q is not bound by an earlier step", prefix, use))
		} else if ref != "" && from != ref {
			issues = append(issues, fmt.Sprintf("%s.use: variable %q comes from step %q, not %q", prefix, use, from, ref))
		}
		return issues
	}
	switch {
	case hasPath && hasRegex:
		issues = append(issues, prefix+": json_path and regex are mutually exclusive")
	case !hasPath && !hasRegex:
		issues = append(issues, prefix+": json_path or regex is required")
	case hasRegex:
		if _, err := regexp.Compile(dep.Regex); err != nil {
			issues = append(issues, fmt.Sprintf("%s.regex: %v", prefix, err))
		}
	}

	switch dep.Pick {
	case "", PickFirst, PickRandom:
	default:
		issues = append(issues, fmt.Sprintf("%s.pick: must be 'first' or 'random', got %q", prefix, dep.Pick))
	}
	if strings.TrimSpace(dep.As) == "" {
		issues = append(issues, prefix+".as: is required")
	}
	return issues
}

func validateMetricDecls(decls []MetricDecl) []string {
	var issues []string
	builtins := metrics.Builtins()
	for idx, d := range decls {
		prefix := fmt.Sprintf("metrics[%d]", idx)
		if strings.TrimSpace(d.Name) == "" {
			issues = append(issues, prefix+".name: is required")
			continue
		}
		kind, err := metrics.ParseKind(d.Kind)
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s.kind: %v", prefix, err))
			continue
		}
		if builtin, ok := builtins[d.Name]; ok && builtin != kind {
			issues = append(issues, fmt.Sprintf("%s: %q is a built-in %s metric", prefix, d.Name, builtin))
		}
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol: must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing.sample_rate: must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}

func (c Config) thresholdSyntaxIssues() []string {
	var issues []string
	for idx, raw := range c.Thresholds.Rules {
		if _, err := threshold.Parse(raw); err != nil {
			issues = append(issues, fmt.Sprintf("thresholds[%d]: %v", idx, err))
		}
	}
	for metric, exprs := range c.Thresholds.ByMetric {
		for idx, expr := range exprs {
			if _, err := threshold.ParseExpression(metric, expr); err != nil {
				issues = append(issues, fmt.Sprintf("thresholds[%s][%d]: %v", metric, idx, err))
			}
		}
	}
	return issues
}

// ThresholdRules parses every configured threshold and checks it against the
// metrics the run will produce. Unknown metrics are configuration errors.
func (c Config) ThresholdRules(known map[string]metrics.Kind) ([]threshold.Rule, error) {
	fromMap, err := threshold.ParseMap(c.Thresholds.ByMetric)
	if err != nil {
		return nil, ValidationError{issues: []string{err.Error()}}
	}
	fromList, err := threshold.ParseMultiple(c.Thresholds.Rules)
	if err != nil {
		return nil, ValidationError{issues: []string{err.Error()}}
	}
	rules := append(fromMap, fromList...)
	for i := range rules {
		rules[i].AbortOnFail = c.AbortOnFail
	}
	if issues := threshold.ValidateAgainst(rules, known); len(issues) > 0 {
		return nil, ValidationError{issues: issues}
	}
	return rules, nil
}

// StepMethod returns the step's method, GET when unset.
func (s Step) StepMethod() string {
	if m := strings.TrimSpace(s.Method); m != "" {
		return strings.ToUpper(m)
	}
	return http.MethodGet
}
