package tracing

import (
	"context"
	"time"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type requestKey struct{}

type requestMeta struct {
	id    string
	start time.Time
}

// RequestInfo identifies an inbound API request in logs and error envelopes.
// TraceID and SpanID are empty unless a span is active.
type RequestInfo struct {
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id,omitempty"`
	SpanID    string    `json:"span_id,omitempty"`
	StartTime time.Time `json:"start_time"`
}

func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// StartRequest tags ctx with the request id and the time handling began.
func StartRequest(ctx context.Context, requestID string, start time.Time) context.Context {
	return context.WithValue(ctx, requestKey{}, requestMeta{id: requestID, start: start})
}

func GetRequestID(ctx context.Context) string {
	meta, _ := ctx.Value(requestKey{}).(requestMeta)
	return meta.id
}

// GetTraceID returns the trace id of the span in ctx.
func GetTraceID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func GetSpanID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}

func GetRequestInfo(ctx context.Context) RequestInfo {
	meta, _ := ctx.Value(requestKey{}).(requestMeta)
	return RequestInfo{
		RequestID: meta.id,
		TraceID:   GetTraceID(ctx),
		SpanID:    GetSpanID(ctx),
		StartTime: meta.start,
	}
}

// Duration is the time elapsed since StartRequest, or zero outside a request.
func Duration(ctx context.Context) time.Duration {
	meta, _ := ctx.Value(requestKey{}).(requestMeta)
	if meta.start.IsZero() {
		return 0
	}
	return time.Since(meta.start)
}
