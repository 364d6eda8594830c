package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/torosent/stagefire/internal/output"
)

// writeSummaryFile encodes the summary and replaces path with it. A sibling
// .lock file serializes concurrent runs writing to the same path.
func writeSummaryFile(path, format string, summary output.Summary) error {
	var buf bytes.Buffer
	if err := summary.Encode(&buf, format); err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer lock.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
