// Package extractor resolves values from HTTP response bodies using JSON path
// or regular expression rules, for steps that depend on an earlier response.
package extractor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNotFound means the body was readable but the rule matched nothing.
	ErrNotFound = errors.New("extractor: no value found")
	// ErrUnparseable means a JSON path rule was applied to a body that is not JSON.
	ErrUnparseable = errors.New("extractor: body is not valid JSON")
)

// Source picks an index in [0, n). *math/rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
}

// Extractor is a compiled extraction rule. Exactly one of JSONPath or Regex
// is set.
type Extractor struct {
	// JSONPath is a gjson path, optionally prefixed with "$." (e.g. "$.user.id",
	// "locations.#.id").
	JSONPath string

	// Regex is a pattern; the first capture group is used when present,
	// otherwise the whole match.
	Regex string

	// Random selects a uniformly random candidate instead of the first one
	// when the rule yields several values.
	Random bool

	re *regexp.Regexp
}

// New compiles an extraction rule.
func New(jsonPath, regex string, random bool) (*Extractor, error) {
	jsonPath = strings.TrimSpace(jsonPath)
	hasPath := jsonPath != ""
	hasRegex := regex != ""
	switch {
	case hasPath && hasRegex:
		return nil, fmt.Errorf("json_path and regex are mutually exclusive")
	case !hasPath && !hasRegex:
		return nil, fmt.Errorf("json_path or regex is required")
	}

	e := &Extractor{JSONPath: jsonPath, Regex: regex, Random: random}
	if hasRegex {
		re, err := regexp.Compile(regex)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", regex, err)
		}
		e.re = re
	}
	return e, nil
}

// Extract returns one value from body. src is only consulted for random
// picks and may be nil, in which case the first candidate is used.
func (e *Extractor) Extract(body []byte, src Source) (string, error) {
	var (
		candidates []string
		err        error
	)
	if e.re != nil {
		candidates = findRegex(body, e.re)
	} else {
		candidates, err = findJSONPath(body, e.JSONPath)
		if err != nil {
			return "", err
		}
	}
	if len(candidates) == 0 {
		return "", ErrNotFound
	}
	return pick(candidates, e.Random, src), nil
}

// String describes the rule for log messages.
func (e *Extractor) String() string {
	if e.re != nil {
		return "regex " + e.Regex
	}
	return "json_path " + e.JSONPath
}

func pick(candidates []string, random bool, src Source) string {
	if !random || src == nil || len(candidates) == 1 {
		return candidates[0]
	}
	return candidates[src.Intn(len(candidates))]
}
