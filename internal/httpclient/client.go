package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/stagefire/internal/tracing"
)

// Request describes one HTTP exchange.
type Request struct {
	// Name labels the request in spans and logs, usually the step name.
	Name    string
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration // overrides Options.Timeout when > 0

	// Attributes are added to the request span.
	Attributes []attribute.KeyValue
}

// Response is the outcome of a completed exchange.
type Response struct {
	Status int
	Body   []byte
	// Bytes counts every body byte received, including any beyond the cap.
	Bytes     int64
	Truncated bool
	Duration  time.Duration
	RequestID string
}

// Options configures a Client.
type Options struct {
	Timeout         time.Duration
	MaxBodyBytes    int64 // 0 keeps the whole body
	RequestIDHeader string
	Tracer          trace.Tracer
	Propagate       bool

	// HTTPClient replaces the pooled client built by NewClient.
	HTTPClient *http.Client
}

// Client is safe for concurrent use by all virtual users.
type Client struct {
	http *http.Client
	opts Options
}

// New builds a Client. A nil tracer disables spans.
func New(opts Options) *Client {
	if opts.Timeout < 0 {
		opts.Timeout = 0
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("")
	}
	hc := opts.HTTPClient
	if hc == nil {
		// The deadline is applied per request so Request.Timeout can override it.
		hc = NewClient(0)
	}
	return &Client{http: hc, opts: opts}
}

// Do sends req and reads its body. The returned error is non-nil only for
// transport failures; Response.Duration is set in both cases.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	timeout := c.opts.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	attrs := append([]attribute.KeyValue{tracing.AttrURL.String(req.URL)}, req.Attributes...)
	ctx, span := tracing.StartRequestSpan(ctx, c.opts.Tracer, method, req.Name, attrs...)

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		err = fmt.Errorf("build request: %w", err)
		tracing.EndSpan(span, err)
		return Response{}, err
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	var out Response
	if c.opts.RequestIDHeader != "" {
		out.RequestID = uuid.NewString()
		httpReq.Header.Set(c.opts.RequestIDHeader, out.RequestID)
	}
	if c.opts.Propagate {
		tracing.InjectHTTPHeaders(ctx, httpReq.Header)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		out.Duration = time.Since(start)
		tracing.EndHTTPSpan(span, 0, err)
		return out, err
	}
	defer resp.Body.Close()

	out.Status = resp.StatusCode
	out.Body, out.Bytes, out.Truncated, err = readBody(resp.Body, c.opts.MaxBodyBytes)
	out.Duration = time.Since(start)
	if err != nil {
		err = fmt.Errorf("read body: %w", err)
	}
	tracing.EndHTTPSpan(span, out.Status, err)
	return out, err
}

// CloseIdleConnections releases pooled connections at the end of a run.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

// NewClient returns an http.Client with a transport tuned for many
// concurrent connections to a small set of hosts.
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
