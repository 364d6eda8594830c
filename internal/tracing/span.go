package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on step request spans.
const (
	AttrStep       = attribute.Key("stagefire.step")
	AttrVU         = attribute.Key("stagefire.vu")
	AttrRunID      = attribute.Key("stagefire.run_id")
	AttrMethod     = attribute.Key("http.request.method")
	AttrURL        = attribute.Key("url.full")
	AttrStatusCode = attribute.Key("http.response.status_code")
)

// StartRequestSpan starts a client span for one step request. The span is
// named "<METHOD> <step>".
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, method, step string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	spanName := method
	if step != "" {
		spanName = method + " " + step
	}
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(AttrMethod.String(method))
	if step != "" {
		span.SetAttributes(AttrStep.String(step))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// EndHTTPSpan finishes a span for an HTTP exchange. Status codes >= 500 mark
// the span as failed, as do transport errors.
func EndHTTPSpan(span trace.Span, status int, err error) {
	if err != nil {
		EndSpan(span, err)
		return
	}
	span.SetAttributes(AttrStatusCode.Int(status))
	if status >= 500 {
		span.SetStatus(codes.Error, http.StatusText(status))
		span.End()
		return
	}
	span.SetStatus(codes.Ok, "")
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
