// Package httpclient executes the HTTP requests issued by scenario steps.
//
// [Client] wraps a pooled [http.Client] built by [NewClient] and adds what a
// load generator needs around each exchange:
//   - a per-request timeout independent of the caller's cancellation
//   - a capped response body read, with the full transferred size reported
//   - an optional request id header (a fresh UUID per request)
//   - an optional OpenTelemetry client span with W3C trace propagation
//
// # Usage
//
//	client := httpclient.New(httpclient.Options{
//		Timeout:         10 * time.Second,
//		MaxBodyBytes:    1 << 20,
//		RequestIDHeader: "X-Request-Id",
//	})
//	resp, err := client.Do(ctx, httpclient.Request{
//		Name:   "locations",
//		Method: http.MethodGet,
//		URL:    "https://test-api.k6.io/api/locations/",
//	})
//
// Transport failures (timeouts, refused connections, DNS errors) are returned
// as errors; any HTTP status, including 5xx, is a successful exchange.
package httpclient
