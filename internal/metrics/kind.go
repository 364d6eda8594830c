package metrics

import (
	"fmt"
	"strings"
)

// Kind identifies how a metric aggregates its observations.
type Kind int

const (
	KindCounter Kind = iota + 1
	KindRate
	KindDistribution
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindRate:
		return "rate"
	case KindDistribution:
		return "distribution"
	default:
		return "unknown"
	}
}

// ParseKind accepts the kind names used in configuration files. "trend" is
// accepted as an alias of distribution.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "counter":
		return KindCounter, nil
	case "rate":
		return KindRate, nil
	case "distribution", "trend":
		return KindDistribution, nil
	default:
		return 0, fmt.Errorf("unknown metric kind %q (supported: counter, rate, distribution)", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
