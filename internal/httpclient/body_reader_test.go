package httpclient

import (
	"errors"
	"io"
	"strings"
	"testing"
)

type failingReader struct {
	data string
	err  error
	read bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.read {
		f.read = true
		return copy(p, f.data), nil
	}
	return 0, f.err
}

func TestReadBody(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		limit         int64
		wantBody      string
		wantTotal     int64
		wantTruncated bool
	}{
		{"no limit", "hello world", 0, "hello world", 11, false},
		{"under limit", "hello", 10, "hello", 5, false},
		{"exact limit", "hello", 5, "hello", 5, false},
		{"over limit", "hello world", 5, "hello", 11, true},
		{"empty", "", 5, "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, total, truncated, err := readBody(strings.NewReader(tt.input), tt.limit)
			if err != nil {
				t.Fatalf("readBody() error = %v", err)
			}
			if string(body) != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			if truncated != tt.wantTruncated {
				t.Errorf("truncated = %v, want %v", truncated, tt.wantTruncated)
			}
		})
	}
}

func TestReadBodyError(t *testing.T) {
	boom := errors.New("connection reset")
	body, total, _, err := readBody(&failingReader{data: "par", err: boom}, 100)
	if !errors.Is(err, boom) {
		t.Fatalf("readBody() error = %v, want %v", err, boom)
	}
	if string(body) != "par" || total != 3 {
		t.Errorf("partial body = %q (%d bytes), want par (3 bytes)", body, total)
	}

	_, _, _, err = readBody(&failingReader{data: "x", err: io.ErrUnexpectedEOF}, 0)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("readBody() without limit error = %v", err)
	}
}
