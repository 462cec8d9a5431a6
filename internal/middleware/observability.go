package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"wadispatch/internal/metrics"
	"wadispatch/internal/service"
	"wadispatch/internal/tracing"
)

// RequestIDHeader is echoed on every response. A caller-supplied value is
// kept so ids can be correlated across services.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// ObservabilityMiddleware wraps each request in a span, tags it with a
// request id, records request counters and a duration timer, and logs the
// completion at a level chosen by status code.
func ObservabilityMiddleware(registry *metrics.Registry, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.StartSpan(r.Context(), "http_request")
			defer span.End()

			requestID := incomingRequestID(r)
			ctx = tracing.StartRequest(ctx, requestID, time.Now())
			r = r.WithContext(ctx)
			w.Header().Set(RequestIDHeader, requestID)

			route := routeTemplate(r)
			remoteIP := clientIP(r)
			tracing.AddSpanAttributes(ctx,
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("client.address", remoteIP),
				attribute.String("user_agent.original", r.Header.Get("User-Agent")),
				attribute.String("request.id", requestID),
			)

			info := tracing.GetRequestInfo(ctx)
			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: info.RequestID,
				service.LogFieldTraceID:   info.TraceID,
				service.LogFieldMethod:    r.Method,
				service.LogFieldPath:      r.URL.Path,
				service.LogFieldRemoteIP:  remoteIP,
				service.LogFieldUserAgent: r.Header.Get("User-Agent"),
			}).Debug("HTTP request started")

			registry.IncrementCounter("http_requests_total", map[string]string{
				"method": r.Method,
				"route":  route,
			}, "Total HTTP requests")
			registry.AddToCounter("http_requests_active", 1, nil, "Currently active HTTP requests")
			defer registry.AddToCounter("http_requests_active", -1, nil, "Currently active HTTP requests")

			rw := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			duration := tracing.Duration(ctx)
			status := strconv.Itoa(rw.statusCode)

			tracing.AddSpanAttributes(ctx,
				attribute.Int("http.response.status_code", rw.statusCode),
				attribute.Int64("http.response.size", rw.responseSize),
			)
			if rw.statusCode >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", rw.statusCode))
			} else {
				span.SetStatus(codes.Ok, "")
			}

			registry.RecordTimer("http_request_duration", duration, map[string]string{
				"method": r.Method,
				"route":  route,
			}, "HTTP request duration")
			registry.IncrementCounter("http_responses_total", map[string]string{
				"method":      r.Method,
				"route":       route,
				"status_code": status,
			}, "HTTP responses by status code")

			level := logrus.InfoLevel
			switch {
			case rw.statusCode >= 500:
				level = logrus.ErrorLevel
			case rw.statusCode >= 400:
				level = logrus.WarnLevel
			}

			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID:  info.RequestID,
				service.LogFieldTraceID:    info.TraceID,
				service.LogFieldMethod:     r.Method,
				service.LogFieldRoute:      route,
				service.LogFieldStatusCode: rw.statusCode,
				service.LogFieldDuration:   duration.Milliseconds(),
				service.LogFieldRemoteIP:   remoteIP,
				service.LogFieldSize:       rw.responseSize,
			}).Log(level, "HTTP request completed")
		})
	}
}

// WebhookObservabilityMiddleware counts provider webhook calls by outcome.
// It runs inside ObservabilityMiddleware, which owns the span.
func WebhookObservabilityMiddleware(registry *metrics.Registry, logger *logrus.Logger, webhookType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			tracing.AddSpanAttributes(r.Context(), attribute.String("webhook.type", webhookType))

			rw := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			registry.RecordTimer("webhook_processing_duration", time.Since(start), map[string]string{
				"type": webhookType,
			}, "Webhook processing duration")

			if rw.statusCode >= 400 {
				registry.IncrementCounter("webhook_errors_total", map[string]string{
					"type":        webhookType,
					"status_code": strconv.Itoa(rw.statusCode),
				}, "Rejected or failed webhook calls")
				logger.WithFields(logrus.Fields{
					service.LogFieldRequestID:  tracing.GetRequestID(r.Context()),
					service.LogFieldComponent:  webhookType,
					service.LogFieldStatusCode: rw.statusCode,
				}).Warn("Webhook request rejected")
				return
			}
			registry.IncrementCounter("webhook_success_total", map[string]string{
				"type": webhookType,
			}, "Accepted webhook calls")
		})
	}
}

// incomingRequestID keeps a sane caller-supplied id or generates one.
func incomingRequestID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if id == "" || len(id) > maxRequestIDLength || strings.ContainsAny(id, "\r\n") {
		return tracing.GenerateRequestID()
	}
	return id
}

// routeTemplate labels metrics by mux route template so path parameters
// such as conversation ids do not create a series per value.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// the websocket upgrade needs for hijacking.
func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
