package scenario

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/torosent/stagefire/internal/extractor"
)

// Step is one request of a scenario. URL, header values and Body may contain
// {{name}} placeholders.
type Step struct {
	Name         string
	Method       string
	URL          string
	Header       map[string]string
	Body         string
	ExpectStatus []int // defaults to [200]
	MaxDuration  time.Duration
	JSONPaths    []string // paths that must exist in the response body
	Tag          string   // distribution receiving the step latency
	ErrorMetric  string   // rate receiving whether the step failed
	Sleep        time.Duration
	Weight       float64 // probability in (0, 1] that the step runs, 1 when zero
	DependsOn    *Dependency
}

// Dependency binds a value from an earlier step's response to a variable.
// With Use set, it instead reuses the variable Use that an earlier step bound
// from Step's response in the same iteration.
type Dependency struct {
	Step      string
	Extractor *extractor.Extractor
	Use       string
	As        string
}

// Check names recorded as checks{<name>}.
func (s *Step) statusCheckName() string   { return s.Name + " status" }
func (s *Step) durationCheckName() string { return s.Name + " duration" }
func (s *Step) jsonPathCheckName(path string) string {
	return s.Name + " has " + path
}

// CheckNames lists every named check the step records.
func (s *Step) CheckNames() []string {
	names := []string{s.statusCheckName()}
	if s.MaxDuration > 0 {
		names = append(names, s.durationCheckName())
	}
	for _, p := range s.JSONPaths {
		names = append(names, s.jsonPathCheckName(p))
	}
	return names
}

func (s *Step) expectsStatus(code int) bool {
	for _, want := range s.ExpectStatus {
		if code == want {
			return true
		}
	}
	return false
}

func (s *Step) normalize() error {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return fmt.Errorf("step name is required")
	}
	s.Method = strings.ToUpper(strings.TrimSpace(s.Method))
	if s.Method == "" {
		s.Method = http.MethodGet
	}
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("step %q: url is required", s.Name)
	}
	if len(s.ExpectStatus) == 0 {
		s.ExpectStatus = []int{http.StatusOK}
	}
	if s.Weight == 0 {
		s.Weight = 1
	}
	if s.Weight < 0 || s.Weight > 1 {
		return fmt.Errorf("step %q: weight must be between 0 and 1", s.Name)
	}
	if s.Sleep < 0 || s.MaxDuration < 0 {
		return fmt.Errorf("step %q: durations must be >= 0", s.Name)
	}
	if d := s.DependsOn; d != nil {
		if d.Use != "" && d.As == "" {
			d.As = d.Use
		}
		if (d.Extractor == nil) == (d.Use == "") || strings.TrimSpace(d.As) == "" {
			return fmt.Errorf("step %q: dependency needs either an extractor or a variable to reuse, and a variable name", s.Name)
		}
	}
	return nil
}

// Status is the outcome of one step within an iteration.
type Status int

const (
	// StatusPassed means the request completed and every check held.
	StatusPassed Status = iota
	// StatusFailed means the request completed but a check failed.
	StatusFailed
	// StatusError means the request failed at the transport level.
	StatusError
	// StatusSkipped means a dependency could not be resolved.
	StatusSkipped
	// StatusNotSelected means the step's weight excluded it this iteration.
	StatusNotSelected
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusError:
		return "error"
	case StatusSkipped:
		return "skipped"
	case StatusNotSelected:
		return "not_selected"
	default:
		return "unknown"
	}
}

// Executed reports whether a request was issued.
func (s Status) Executed() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusError
}

// CheckResult is one evaluated check.
type CheckResult struct {
	Name string
	Pass bool
}

// StepResult is the result slot of a step, readable by later steps.
type StepResult struct {
	Step       string
	Status     Status
	HTTPStatus int
	Duration   time.Duration
	Bytes      int64
	Checks     []CheckResult
	Err        error  // transport error for StatusError
	Reason     string // why the step was skipped
	body       []byte
}

// Body returns the response body when the request completed.
func (r StepResult) Body() ([]byte, bool) {
	if r.Status != StatusPassed && r.Status != StatusFailed {
		return nil, false
	}
	return r.body, true
}

// Passed reports whether the step ran and all its checks held.
func (r StepResult) Passed() bool {
	return r.Status == StatusPassed
}
