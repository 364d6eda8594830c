package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, ErrorClassTimeout},
		{"wrapped deadline", &url.Error{Op: "Get", URL: "http://x", Err: context.DeadlineExceeded}, ErrorClassTimeout},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, ErrorClassTimeout},
		{"canceled", fmt.Errorf("do: %w", context.Canceled), ErrorClassCanceled},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, ErrorClassConnectionRefused},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, ErrorClassConnectionReset},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, ErrorClassDNS},
		{"tls by message", errors.New("remote error: tls: handshake failure"), ErrorClassTLS},
		{"other", errors.New("boom"), ErrorClassOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFriendlyErrorClass(t *testing.T) {
	if got := FriendlyErrorClass(ErrorClassTimeout); got != "Request timeout" {
		t.Errorf("unexpected label %q", got)
	}
	if got := FriendlyErrorClass(""); got != "Unknown error" {
		t.Errorf("unexpected label for empty class %q", got)
	}
	if got := FriendlyErrorClass("custom"); got != "custom" {
		t.Errorf("expected unknown class to pass through, got %q", got)
	}
}
