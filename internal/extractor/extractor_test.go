package extractor

import (
	"errors"
	"math/rand"
	"testing"
)

type fixedSource int

func (f fixedSource) Intn(n int) int { return int(f) % n }

func mustNew(t *testing.T, jsonPath, regex string, random bool) *Extractor {
	t.Helper()
	e, err := New(jsonPath, regex, random)
	if err != nil {
		t.Fatalf("New(%q, %q) error = %v", jsonPath, regex, err)
	}
	return e
}

func TestExtract_JSONPath(t *testing.T) {
	body := []byte(`{"id": 123, "user": {"profile": {"name": "Alice"}}, "items": [{"id": 1}, {"id": 2}]}`)
	tests := []struct {
		path string
		want string
	}{
		{"id", "123"},
		{"$.id", "123"},
		{"user.profile.name", "Alice"},
		{"items.0.id", "1"},
		{"items.#.id", "1"},
		{"user.profile", `{"name": "Alice"}`},
	}
	for _, tt := range tests {
		got, err := mustNew(t, tt.path, "", false).Extract(body, nil)
		if err != nil {
			t.Errorf("Extract(%q) error = %v", tt.path, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Extract(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestExtract_JSONPathRandomPick(t *testing.T) {
	body := []byte(`{"locations": [{"id": 10}, {"id": 20}, {"id": 30}]}`)
	e := mustNew(t, "locations.#.id", "", true)

	got, err := e.Extract(body, fixedSource(2))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != "30" {
		t.Errorf("Extract() = %q, want 30", got)
	}

	seen := map[string]bool{}
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		v, err := e.Extract(body, rnd)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		seen[v] = true
	}
	for _, want := range []string{"10", "20", "30"} {
		if !seen[want] {
			t.Errorf("random pick never produced %s", want)
		}
	}
}

func TestExtract_JSONPathErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		path string
		want error
	}{
		{"not json", `<html>oops</html>`, "id", ErrUnparseable},
		{"empty body", ``, "id", ErrUnparseable},
		{"missing field", `{"id": 1}`, "missing", ErrNotFound},
		{"null value", `{"id": null}`, "id", ErrNotFound},
		{"empty array", `{"locations": []}`, "locations.#.id", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mustNew(t, tt.path, "", false).Extract([]byte(tt.body), nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("Extract() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExtract_Regex(t *testing.T) {
	tests := []struct {
		pattern string
		body    string
		want    string
	}{
		{`ID=(\d+)`, `Response: ID=789`, "789"},
		{`\d+`, `The code is 12345`, "12345"},
		{`id="(\w+)"`, `<a id="first"></a><a id="second"></a>`, "first"},
	}
	for _, tt := range tests {
		got, err := mustNew(t, "", tt.pattern, false).Extract([]byte(tt.body), nil)
		if err != nil {
			t.Errorf("Extract(%q) error = %v", tt.pattern, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Extract(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}

func TestExtract_RegexRandomPick(t *testing.T) {
	e := mustNew(t, "", `id="(\w+)"`, true)
	got, err := e.Extract([]byte(`<a id="first"></a><a id="second"></a>`), fixedSource(1))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != "second" {
		t.Errorf("Extract() = %q, want second", got)
	}
}

func TestExtract_RegexNoMatch(t *testing.T) {
	_, err := mustNew(t, "", `token=(\w+)`, false).Extract([]byte(`nothing here`), nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Extract() error = %v, want ErrNotFound", err)
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		jsonPath string
		regex    string
	}{
		{"neither", "", ""},
		{"both", "id", `\d+`},
		{"bad regex", "", `[invalid(regex`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.jsonPath, tt.regex, false); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestExists(t *testing.T) {
	body := []byte(`{"locations": [{"id": 1}], "count": 0, "next": null}`)
	tests := []struct {
		path string
		want bool
	}{
		{"locations", true},
		{"$.count", true},
		{"locations.#.id", true},
		{"next", false},
		{"missing", false},
	}
	for _, tt := range tests {
		if got := Exists(body, tt.path); got != tt.want {
			t.Errorf("Exists(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
	if Exists([]byte("not json"), "locations") {
		t.Error("Exists() on invalid JSON = true, want false")
	}
}
