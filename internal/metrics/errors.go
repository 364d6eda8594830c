package metrics

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
)

// Transport error classes used as tags on http_req_errors.
const (
	ErrorClassTimeout           = "timeout"
	ErrorClassConnectionRefused = "connection_refused"
	ErrorClassConnectionReset   = "connection_reset"
	ErrorClassDNS               = "dns"
	ErrorClassTLS               = "tls"
	ErrorClassCanceled          = "canceled"
	ErrorClassOther             = "other"
)

var friendlyClasses = map[string]string{
	ErrorClassTimeout:           "Request timeout",
	ErrorClassConnectionRefused: "Connection refused",
	ErrorClassConnectionReset:   "Connection reset",
	ErrorClassDNS:               "DNS lookup failed",
	ErrorClassTLS:               "TLS handshake failed",
	ErrorClassCanceled:          "Request canceled",
	ErrorClassOther:             "Other transport error",
}

// ClassifyError maps a transport-level error to a stable class name.
// It returns "" for a nil error.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassCanceled
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrorClassConnectionRefused
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return ErrorClassConnectionReset
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorClassDNS
	}
	var recordErr tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &recordErr) || errors.As(err, &certErr) ||
		errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) {
		return ErrorClassTLS
	}

	// Some transports only surface the condition in the message.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return ErrorClassTimeout
	case strings.Contains(msg, "connection refused"):
		return ErrorClassConnectionRefused
	case strings.Contains(msg, "connection reset"):
		return ErrorClassConnectionReset
	case strings.Contains(msg, "no such host"):
		return ErrorClassDNS
	case strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:"):
		return ErrorClassTLS
	}
	return ErrorClassOther
}

// FriendlyErrorClass returns a human-friendly label for a class produced by
// ClassifyError.
func FriendlyErrorClass(class string) string {
	if label, ok := friendlyClasses[class]; ok {
		return label
	}
	if strings.TrimSpace(class) == "" {
		return "Unknown error"
	}
	return class
}

// ErrorClasses lists every class ClassifyError can return.
func ErrorClasses() []string {
	return []string{
		ErrorClassTimeout,
		ErrorClassConnectionRefused,
		ErrorClassConnectionReset,
		ErrorClassDNS,
		ErrorClassTLS,
		ErrorClassCanceled,
		ErrorClassOther,
	}
}
