package httpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestClientDo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"hello":"world"}` {
			t.Errorf("body = %q", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer server.Close()

	client := New(Options{Timeout: time.Second})
	defer client.CloseIdleConnections()

	resp, err := client.Do(context.Background(), Request{
		Name:   "create",
		Method: "post",
		URL:    server.URL + "/items",
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"hello":"world"}`),
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Status != http.StatusCreated {
		t.Errorf("Status = %d, want 201", resp.Status)
	}
	if string(resp.Body) != `{"id":1}` || resp.Bytes != 8 || resp.Truncated {
		t.Errorf("unexpected body %q (%d bytes, truncated=%v)", resp.Body, resp.Bytes, resp.Truncated)
	}
	if resp.Duration <= 0 {
		t.Errorf("Duration = %s, want > 0", resp.Duration)
	}
	if resp.RequestID != "" {
		t.Errorf("RequestID = %q, want empty when disabled", resp.RequestID)
	}
}

func TestClientDoServerErrorIsNotTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	resp, err := New(Options{}).Do(context.Background(), Request{URL: server.URL})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", resp.Status)
	}
}

func TestClientRequestIDHeader(t *testing.T) {
	ids := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids <- r.Header.Get("X-Request-Id")
	}))
	defer server.Close()

	resp, err := New(Options{RequestIDHeader: "X-Request-Id"}).Do(context.Background(), Request{URL: server.URL})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	seen := <-ids
	if seen == "" || seen != resp.RequestID {
		t.Fatalf("server saw request id %q, response reports %q", seen, resp.RequestID)
	}
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("request id %q is not a UUID: %v", seen, err)
	}
}

func TestClientBodyCap(t *testing.T) {
	payload := strings.Repeat("x", 4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	resp, err := New(Options{MaxBodyBytes: 100}).Do(context.Background(), Request{URL: server.URL})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if len(resp.Body) != 100 || !resp.Truncated {
		t.Errorf("body len = %d truncated = %v, want 100 true", len(resp.Body), resp.Truncated)
	}
	if resp.Bytes != int64(len(payload)) {
		t.Errorf("Bytes = %d, want %d", resp.Bytes, len(payload))
	}
}

func TestClientTimeout(t *testing.T) {
	timeout := 50 * time.Millisecond
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(timeout * 10):
		}
	}))
	defer server.Close()
	defer close(release)

	tests := []struct {
		name string
		opts Options
		req  Request
	}{
		{"client timeout", Options{Timeout: timeout}, Request{URL: server.URL}},
		{"request override", Options{Timeout: time.Minute}, Request{URL: server.URL, Timeout: timeout}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			resp, err := New(tt.opts).Do(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected timeout error, got nil")
			}
			elapsed := time.Since(start)
			if elapsed > timeout*5 {
				t.Fatalf("request took too long: %s", elapsed)
			}
			if resp.Duration <= 0 {
				t.Errorf("Duration = %s, want > 0 on transport error", resp.Duration)
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				var netErr net.Error
				if !errors.As(err, &netErr) || !netErr.Timeout() {
					t.Fatalf("expected timeout error, got %v", err)
				}
			}
		})
	}
}

func TestClientIgnoresCallerCancellationWhenDetached(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
	}))
	defer server.Close()

	parent, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := New(Options{Timeout: time.Second}).Do(context.WithoutCancel(parent), Request{URL: server.URL})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.Status)
	}
}

func TestClientConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	if _, err := New(Options{Timeout: time.Second}).Do(context.Background(), Request{URL: url}); err == nil {
		t.Fatal("expected error for closed server")
	}
}

func TestClientTracePropagation(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	headers := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Get("Traceparent")
	}))
	defer server.Close()

	client := New(Options{Tracer: tp.Tracer("test"), Propagate: true})
	if _, err := client.Do(context.Background(), Request{Name: "root", URL: server.URL}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if traceparent := <-headers; traceparent == "" {
		t.Error("traceparent header not propagated")
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "GET root" {
		t.Fatalf("unexpected spans %+v", spans)
	}
}

func TestNewClientTransport(t *testing.T) {
	client := NewClient(-1)
	if client.Timeout != 0 {
		t.Fatalf("expected negative timeout to be clamped, got %s", client.Timeout)
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.MaxIdleConns == 0 {
		t.Fatalf("expected transport to allow idle connections")
	}
	if transport.IdleConnTimeout == 0 {
		t.Fatalf("expected transport to set idle connection timeout")
	}
}
