package scenario

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/torosent/stagefire/internal/config"
	"github.com/torosent/stagefire/internal/extractor"
	"github.com/torosent/stagefire/internal/httpclient"
	"github.com/torosent/stagefire/internal/metrics"
	"github.com/torosent/stagefire/internal/variables"
)

// Doer issues one HTTP exchange. *httpclient.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (httpclient.Response, error)
}

// Options configure a Scenario.
type Options struct {
	Sink           *metrics.Sink
	Logger         logrus.FieldLogger
	Header         map[string]string // sent with every step, step headers win
	IterationSleep time.Duration     // pause after the last step
	MaxRPS         int               // requests per second across all users, 0 for no cap
	Timeout        time.Duration     // per-request timeout passed to the client
	Metrics        map[string]metrics.Kind
	Seed           int64 // seeds per-user randomness; 0 uses the clock
}

// Scenario is immutable once built and shared by every virtual user.
type Scenario struct {
	steps   []Step
	index   map[string]int
	opts    Options
	limiter *rate.Limiter
}

// New validates steps and builds a Scenario.
func New(steps []Step, opts Options) (*Scenario, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("scenario needs at least one step")
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}

	s := &Scenario{
		steps: make([]Step, len(steps)),
		index: make(map[string]int, len(steps)),
		opts:  opts,
	}
	for i, st := range steps {
		if err := st.normalize(); err != nil {
			return nil, err
		}
		if _, dup := s.index[st.Name]; dup {
			return nil, fmt.Errorf("duplicate step name %q", st.Name)
		}
		if dep := st.DependsOn; dep != nil {
			prior, ok := s.index[dep.Step]
			if !ok || prior >= i {
				return nil, fmt.Errorf("step %q depends on %q, which must be an earlier step", st.Name, dep.Step)
			}
		}
		s.index[st.Name] = i
		s.steps[i] = st
	}
	if opts.MaxRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), opts.MaxRPS)
	}
	return s, nil
}

// FromConfig builds a Scenario from a validated configuration.
func FromConfig(cfg *config.Config, opts Options) (*Scenario, error) {
	steps := make([]Step, 0, len(cfg.Steps))
	for idx, cs := range cfg.Steps {
		st, err := stepFromConfig(cfg.BaseURL, cs)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", idx, err)
		}
		steps = append(steps, st)
	}

	declared := make(map[string]metrics.Kind, len(cfg.Metrics)+len(opts.Metrics))
	for name, kind := range opts.Metrics {
		declared[name] = kind
	}
	for _, d := range cfg.Metrics {
		kind, err := metrics.ParseKind(d.Kind)
		if err != nil {
			return nil, fmt.Errorf("metrics %s: %w", d.Name, err)
		}
		declared[d.Name] = kind
	}
	opts.Metrics = declared

	if opts.Header == nil {
		opts.Header = cfg.Headers
	}
	if opts.IterationSleep == 0 {
		opts.IterationSleep = cfg.IterationSleep
	}
	if opts.MaxRPS == 0 {
		opts.MaxRPS = cfg.MaxRPS
	}
	if opts.Timeout == 0 {
		opts.Timeout = cfg.Timeout
	}
	return New(steps, opts)
}

func stepFromConfig(baseURL string, cs config.Step) (Step, error) {
	target, err := resolveURL(baseURL, cs)
	if err != nil {
		return Step{}, err
	}
	st := Step{
		Name:         cs.Name,
		Method:       cs.StepMethod(),
		URL:          target,
		Header:       cs.Headers,
		Body:         cs.Body,
		ExpectStatus: append([]int(nil), cs.ExpectStatus...),
		MaxDuration:  cs.Checks.MaxDuration,
		JSONPaths:    append([]string(nil), cs.Checks.JSONPath...),
		Tag:          cs.Tag,
		ErrorMetric:  cs.ErrorMetric,
		Sleep:        cs.Sleep,
		Weight:       cs.Weight,
	}
	if dep := cs.DependsOn; dep != nil {
		if dep.Use != "" {
			st.DependsOn = &Dependency{Step: dep.Step, Use: dep.Use, As: dep.As}
			return st, nil
		}
		ex, err := extractor.New(dep.JSONPath, dep.Regex, dep.Pick == config.PickRandom)
		if err != nil {
			return Step{}, fmt.Errorf("depends_on: %w", err)
		}
		st.DependsOn = &Dependency{Step: dep.Step, Extractor: ex, As: dep.As}
	}
	return st, nil
}

// resolveURL joins a step path onto the base URL. Placeholders survive
// because they are only expanded at request time.
func resolveURL(base string, cs config.Step) (string, error) {
	if trimmed := strings.TrimSpace(cs.URL); trimmed != "" {
		return trimmed, nil
	}
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("path %q requires base_url", cs.Path)
	}
	path := strings.TrimSpace(cs.Path)
	if path == "" {
		return base, nil
	}
	if strings.Contains(path, "{{") {
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"), nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base_url %q: %w", base, err)
	}
	rel, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	return baseURL.ResolveReference(rel).String(), nil
}

// Steps returns a copy of the scenario's steps.
func (s *Scenario) Steps() []Step {
	return append([]Step(nil), s.steps...)
}

// Declare registers every metric the scenario records so thresholds can be
// validated before the run and appear in reports when nothing was recorded.
func (s *Scenario) Declare(sink *metrics.Sink) error {
	for name, kind := range s.MetricKinds() {
		if err := sink.Declare(name, kind); err != nil {
			return err
		}
	}
	return nil
}

// MetricKinds lists the metrics the scenario records with their kinds.
func (s *Scenario) MetricKinds() map[string]metrics.Kind {
	out := metrics.Builtins()
	for _, class := range metrics.ErrorClasses() {
		out[metrics.Tagged(metrics.HTTPReqErrors, class)] = metrics.KindCounter
	}
	for name, kind := range s.opts.Metrics {
		out[name] = kind
	}
	for _, st := range s.steps {
		for _, check := range st.CheckNames() {
			out[metrics.Tagged(metrics.Checks, check)] = metrics.KindRate
		}
		if st.Tag != "" {
			if _, ok := out[st.Tag]; !ok {
				out[st.Tag] = metrics.KindDistribution
			}
		}
		if st.ErrorMetric != "" {
			if _, ok := out[st.ErrorMetric]; !ok {
				out[st.ErrorMetric] = metrics.KindRate
			}
		}
	}
	return out
}

// CustomMetrics returns the names of declared, tag and error metrics in
// sorted order, for the report's custom metric table.
func (s *Scenario) CustomMetrics() []string {
	builtin := metrics.Builtins()
	seen := map[string]bool{}
	for name := range s.opts.Metrics {
		seen[name] = true
	}
	for _, st := range s.steps {
		if st.Tag != "" {
			seen[st.Tag] = true
		}
		if st.ErrorMetric != "" {
			seen[st.ErrorMetric] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		if _, ok := builtin[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ErrorMetric returns the first step error metric, or "" when no step
// declares one.
func (s *Scenario) ErrorMetric() string {
	for _, st := range s.steps {
		if st.ErrorMetric != "" {
			return st.ErrorMetric
		}
	}
	return ""
}

// Run executes one iteration for userID and returns every step's result.
func (s *Scenario) Run(ctx context.Context, userID int, client Doer) []StepResult {
	it := s.Iterator(userID, client)
	for it.Next(ctx) {
	}
	return it.Results()
}

// ForUser returns the iteration a virtual user runs back-to-back.
func (s *Scenario) ForUser(userID int, client Doer) *User {
	return &User{it: s.Iterator(userID, client)}
}

func (s *Scenario) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// request expands placeholders in the step's URL, headers and body.
func (s *Scenario) request(st *Step, vars variables.Store) httpclient.Request {
	h := make(http.Header, len(s.opts.Header)+len(st.Header))
	for _, headers := range []map[string]string{s.opts.Header, st.Header} {
		for k, v := range variables.ExpandMap(headers, vars) {
			h.Set(k, v)
		}
	}
	req := httpclient.Request{
		Name:    st.Name,
		Method:  st.Method,
		URL:     variables.Expand(st.URL, vars),
		Header:  h,
		Timeout: s.opts.Timeout,
	}
	if st.Body != "" {
		req.Body = []byte(variables.Expand(st.Body, vars))
	}
	return req
}
