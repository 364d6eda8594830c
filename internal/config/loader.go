package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// EnvPrefix prefixes environment variables that override scalar settings,
// e.g. STAGEFIRE_BASE_URL.
const EnvPrefix = "STAGEFIRE"

// envKeys are the settings that may be supplied through the environment.
var envKeys = []string{
	"base_url", "timeout", "graceful_stop", "max_rps", "summary_file", "summary_format",
	"log_level", "log_format", "no_color", "progress", "metrics_addr", "request_id_header",
	"abort_on_fail", "tracing.endpoint", "tracing.protocol", "tracing.insecure",
	"tracing.sample_rate", "tracing.service_name",
}

const (
	defaultTimeout           = 30 * time.Second
	defaultThresholdInterval = time.Second
	defaultMaxBodyBytes      = 10 << 20
)

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and the configuration file they name to
// produce a Config. The file may be given positionally or with --config.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := strings.TrimSpace(flagSet.Lookup("config").Value.String())
	positional := flagSet.Args()
	if configPath == "" && len(positional) > 0 {
		configPath = strings.TrimSpace(positional[0])
		positional = positional[1:]
	}
	if len(positional) > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(positional, " "))
	}
	if len(args) == 0 {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfgViper := viper.New()
	cfgViper.SetEnvPrefix(EnvPrefix)
	cfgViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := cfgViper.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := &Config{
		Headers:           map[string]string{},
		Timeout:           defaultTimeout,
		ThresholdInterval: defaultThresholdInterval,
		MaxBodyBytes:      defaultMaxBodyBytes,
		SummaryFormat:     "json",
		LogLevel:          "info",
		LogFormat:         "text",
		ConfigFile:        configPath,
		Tracing:           TracingConfig{SampleRate: 1},
	}

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.SummaryFormat = strings.ToLower(strings.TrimSpace(cfg.SummaryFormat))
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}
	top, err := node{value: settings}.object()
	if err != nil {
		return err
	}

	if err := top.setString(&cfg.BaseURL, "base_url", "baseurl", "base-url"); err != nil {
		return err
	}
	if err := top.setInt(&cfg.StartVUs, "start_vus", "startvus"); err != nil {
		return err
	}
	if raw, ok := top.get("stages"); ok {
		if cfg.Stages, err = parseStages(raw); err != nil {
			return err
		}
	}

	durations := []struct {
		keys   []string
		target *time.Duration
	}{
		{[]string{"timeout"}, &cfg.Timeout},
		{[]string{"graceful_stop", "gracefulstop"}, &cfg.GracefulStop},
		{[]string{"iteration_sleep", "iterationsleep"}, &cfg.IterationSleep},
		{[]string{"threshold_interval", "thresholdinterval"}, &cfg.ThresholdInterval},
	}
	for _, d := range durations {
		if err := top.setDuration(d.target, d.keys...); err != nil {
			return err
		}
	}

	if err := top.setInt(&cfg.MaxRPS, "max_rps", "maxrps"); err != nil {
		return err
	}
	if raw, ok := top.get("max_body_bytes", "maxbodybytes"); ok {
		val, err := raw.integer()
		if err != nil {
			return err
		}
		cfg.MaxBodyBytes = int64(val)
	}

	if raw, ok := top.get("headers"); ok {
		hdrs, err := raw.headers()
		if err != nil {
			return err
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[k] = v
		}
	}

	if raw, ok := top.get("steps"); ok {
		if cfg.Steps, err = parseSteps(raw); err != nil {
			return err
		}
	}
	if raw, ok := top.get("metrics"); ok {
		if cfg.Metrics, err = parseMetricDecls(raw); err != nil {
			return err
		}
	}
	if raw, ok := top.get("thresholds"); ok {
		if cfg.Thresholds, err = parseThresholds(raw); err != nil {
			return err
		}
	}

	strs := []struct {
		keys   []string
		target *string
	}{
		{[]string{"summary_file", "summaryfile"}, &cfg.SummaryFile},
		{[]string{"summary_format", "summaryformat"}, &cfg.SummaryFormat},
		{[]string{"log_level", "loglevel"}, &cfg.LogLevel},
		{[]string{"log_format", "logformat"}, &cfg.LogFormat},
		{[]string{"request_id_header", "requestidheader"}, &cfg.RequestIDHeader},
		{[]string{"metrics_addr", "metricsaddr"}, &cfg.MetricsAddr},
	}
	for _, s := range strs {
		if err := top.setString(s.target, s.keys...); err != nil {
			return err
		}
	}

	bools := []struct {
		keys   []string
		target *bool
	}{
		{[]string{"abort_on_fail", "abortonfail"}, &cfg.AbortOnFail},
		{[]string{"no_color", "nocolor"}, &cfg.NoColor},
		{[]string{"progress"}, &cfg.Progress},
	}
	for _, b := range bools {
		if err := top.setBool(b.target, b.keys...); err != nil {
			return err
		}
	}

	if raw, ok := top.get("tracing"); ok {
		if cfg.Tracing, err = parseTracing(raw); err != nil {
			return err
		}
	}

	return nil
}

func parseStages(n node) ([]Stage, error) {
	items, err := n.list()
	if err != nil {
		return nil, err
	}
	stages := make([]Stage, 0, len(items))
	for _, item := range items {
		entry, err := item.object()
		if err != nil {
			return nil, err
		}
		var st Stage
		if err := entry.setDuration(&st.Duration, "duration"); err != nil {
			return nil, err
		}
		if err := entry.setInt(&st.Target, "target", "vus"); err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, nil
}

func parseSteps(n node) ([]Step, error) {
	items, err := n.list()
	if err != nil {
		return nil, err
	}
	steps := make([]Step, 0, len(items))
	for _, item := range items {
		step, err := buildStep(item)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func buildStep(n node) (Step, error) {
	entry, err := n.object()
	if err != nil {
		return Step{}, err
	}
	step := Step{Weight: 1}
	strs := []struct {
		keys   []string
		target *string
	}{
		{[]string{"name"}, &step.Name},
		{[]string{"method"}, &step.Method},
		{[]string{"url"}, &step.URL},
		{[]string{"path"}, &step.Path},
		{[]string{"tag"}, &step.Tag},
		{[]string{"error_metric", "errormetric"}, &step.ErrorMetric},
	}
	for _, s := range strs {
		if err := entry.setString(s.target, s.keys...); err != nil {
			return Step{}, err
		}
	}
	step.Method = strings.ToUpper(step.Method)

	if raw, ok := entry.get("body"); ok {
		if step.Body, err = raw.text(); err != nil {
			return Step{}, err
		}
	}
	if raw, ok := entry.get("headers"); ok {
		if step.Headers, err = raw.headers(); err != nil {
			return Step{}, err
		}
	}
	if raw, ok := entry.get("expect_status", "expectstatus", "status"); ok {
		if step.ExpectStatus, err = raw.ints(); err != nil {
			return Step{}, err
		}
	}
	if raw, ok := entry.get("checks"); ok {
		if step.Checks, err = parseChecks(raw); err != nil {
			return Step{}, err
		}
	}
	if err := entry.setDuration(&step.Sleep, "sleep", "think_time"); err != nil {
		return Step{}, err
	}
	if raw, ok := entry.get("weight"); ok {
		if step.Weight, err = raw.number(); err != nil {
			return Step{}, err
		}
	}
	if raw, ok := entry.get("depends_on", "dependson"); ok && raw.value != nil {
		dep, err := parseDependency(raw)
		if err != nil {
			return Step{}, err
		}
		step.DependsOn = &dep
	}
	return step, nil
}

func parseChecks(n node) (StepChecks, error) {
	var checks StepChecks
	if n.value == nil {
		return checks, nil
	}
	entry, err := n.object()
	if err != nil {
		return StepChecks{}, err
	}
	if err := entry.setDuration(&checks.MaxDuration, "max_duration", "maxduration"); err != nil {
		return StepChecks{}, err
	}
	if raw, ok := entry.get("json_path", "jsonpath"); ok {
		if checks.JSONPath, err = raw.strs(); err != nil {
			return StepChecks{}, err
		}
	}
	return checks, nil
}

func parseDependency(n node) (Dependency, error) {
	entry, err := n.object()
	if err != nil {
		return Dependency{}, err
	}
	var dep Dependency
	var pick string
	fields := []struct {
		keys   []string
		target *string
	}{
		{[]string{"step"}, &dep.Step},
		{[]string{"json_path", "jsonpath"}, &dep.JSONPath},
		{[]string{"regex"}, &dep.Regex},
		{[]string{"use"}, &dep.Use},
		{[]string{"as", "var"}, &dep.As},
		{[]string{"pick"}, &pick},
	}
	for _, f := range fields {
		if err := entry.setString(f.target, f.keys...); err != nil {
			return Dependency{}, err
		}
	}
	dep.Pick = PickMode(strings.ToLower(pick))
	return dep, nil
}

func parseMetricDecls(n node) ([]MetricDecl, error) {
	// Accept both a map of name -> kind and a list of {name, kind}.
	if m, err := n.namedObject(); err == nil {
		decls := make([]MetricDecl, 0, len(m.fields))
		for _, name := range m.keys() {
			kind, err := m.field(name).text()
			if err != nil {
				return nil, err
			}
			decls = append(decls, MetricDecl{Name: name, Kind: strings.TrimSpace(kind)})
		}
		sortMetricDecls(decls)
		return decls, nil
	}
	items, err := n.list()
	if err != nil {
		return nil, n.errorf("expected a mapping of name to kind or a list, got %s", describe(n.value))
	}
	decls := make([]MetricDecl, 0, len(items))
	for _, item := range items {
		entry, err := item.object()
		if err != nil {
			return nil, err
		}
		var d MetricDecl
		if err := entry.setString(&d.Name, "name"); err != nil {
			return nil, err
		}
		if err := entry.setString(&d.Kind, "kind", "type"); err != nil {
			return nil, err
		}
		decls = append(decls, d)
	}
	return decls, nil
}

func parseThresholds(n node) (Thresholds, error) {
	if n.value == nil {
		return Thresholds{}, nil
	}
	if m, err := n.namedObject(); err == nil {
		th := Thresholds{ByMetric: make(map[string][]string, len(m.fields))}
		for _, metric := range m.keys() {
			exprs, err := m.field(metric).strs()
			if err != nil {
				return Thresholds{}, err
			}
			th.ByMetric[metric] = exprs
		}
		return th, nil
	}
	rules, err := n.strs()
	if err != nil {
		return Thresholds{}, err
	}
	return Thresholds{Rules: rules}, nil
}

func parseTracing(n node) (TracingConfig, error) {
	tc := TracingConfig{SampleRate: 1}
	if n.value == nil {
		return tc, nil
	}
	entry, err := n.object()
	if err != nil {
		return TracingConfig{}, err
	}
	for _, s := range []struct {
		keys   []string
		target *string
	}{
		{[]string{"endpoint"}, &tc.Endpoint},
		{[]string{"protocol"}, &tc.Protocol},
		{[]string{"service_name", "servicename"}, &tc.ServiceName},
	} {
		if err := entry.setString(s.target, s.keys...); err != nil {
			return TracingConfig{}, err
		}
	}
	if err := entry.setBool(&tc.Insecure, "insecure"); err != nil {
		return TracingConfig{}, err
	}
	if raw, ok := entry.get("sample_rate", "samplerate"); ok {
		if tc.SampleRate, err = raw.number(); err != nil {
			return TracingConfig{}, err
		}
	}
	if raw, ok := entry.get("propagate"); ok {
		val, err := raw.boolean()
		if err != nil {
			return TracingConfig{}, err
		}
		tc.Propagate = &val
	}
	tc.Protocol = strings.ToLower(tc.Protocol)
	return tc, nil
}
