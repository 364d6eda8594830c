//go:build integration

package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Full-length runs over the documented ramp. Run with -tags integration.

const longStages = "  - {duration: 10s, target: 5}\n  - {duration: 10s, target: 0}"

func TestLongRunHealthyServer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long run in short mode")
	}
	server := fixedServer(http.StatusOK, 50*time.Millisecond)
	defer server.Close()

	dir := t.TempDir()
	summaryPath := filepath.Join(dir, "summary.json")
	cfg := writeFile(t, dir, "long-pass.yml", singleStepConfig(server.URL, longStages,
		`  http_req_duration: ["p(95)<2000"]`, summaryPath))

	var stdout bytes.Buffer
	if err := run(context.Background(), []string{cfg}, &stdout, &bytes.Buffer{}); err != nil {
		t.Fatalf("run() error = %v\n%s", err, stdout.String())
	}

	s := readSummary(t, summaryPath)
	if !s.Pass {
		t.Errorf("thresholds failed: %v", s.Thresholds)
	}
	if got := s.Metrics["errors"].Rate; got != 0 {
		t.Errorf("error rate = %v, want 0", got)
	}
	if p95 := s.Metrics["http_req_duration"].P95; p95 < 45 || p95 > 150 {
		t.Errorf("p95 = %.2fms, want about 50ms", p95)
	}
	if s.MaxVUs < 4 || s.MaxVUs > 5 {
		t.Errorf("max VUs = %d, want 5 (within one)", s.MaxVUs)
	}
}

func TestLongRunFailingServer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long run in short mode")
	}
	server := fixedServer(http.StatusInternalServerError, 50*time.Millisecond)
	defer server.Close()

	dir := t.TempDir()
	summaryPath := filepath.Join(dir, "summary.json")
	cfg := writeFile(t, dir, "long-fail.yml", singleStepConfig(server.URL, longStages,
		`  errors: ["rate<0.1"]`, summaryPath))

	var stdout bytes.Buffer
	err := run(context.Background(), []string{cfg}, &stdout, &bytes.Buffer{})
	if !errors.Is(err, errThresholdsFailed) {
		t.Fatalf("run() error = %v, want errThresholdsFailed", err)
	}
	if !strings.Contains(stdout.String(), "Error Rate:        100.00%") {
		t.Errorf("report does not show a full error rate:\n%s", stdout.String())
	}
	if s := readSummary(t, summaryPath); s.Pass || s.Metrics["errors"].Rate != 1 {
		t.Errorf("summary pass=%v errors=%v, want failing run", s.Pass, s.Metrics["errors"].Rate)
	}
}
