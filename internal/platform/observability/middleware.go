package observability

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/garage-pos/settlement/internal/platform/httpx"
	"github.com/garage-pos/settlement/internal/platform/requestctx"
)

const (
	requestIDHeader = "X-Request-Id"
	replayHeader    = "X-Idempotent-Replay"
)

// InjectLoggerMiddleware stores the provided logger on the request context to make it accessible downstream.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		next = orNoop(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware writes one structured line per request once the response is known.
// Replayed idempotent responses are flagged so duplicate settlements can be told apart in logs.
func RequestLoggerMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		next = orNoop(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := middleware.GetReqID(ctx)
			if requestID != "" {
				w.Header().Set(requestIDHeader, requestID)
			}

			logger := requestLogger(r, requestID, projectID)
			r = r.WithContext(requestctx.WithLogger(ctx, logger))

			recorder := newResponseRecorder(w)
			start := time.Now()

			panicked := true
			defer func() {
				status := recorder.Status()
				if panicked && status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}
				annotateSpan(trace.SpanFromContext(r.Context()), routePattern(r), status)
				logCompletion(logger, status, completionFields(recorder, status, time.Since(start)))
			}()

			next.ServeHTTP(recorder, r)
			panicked = false
		})
	}
}

func requestLogger(r *http.Request, requestID, projectID string) *zap.Logger {
	traceInfo, _ := requestctx.Trace(r.Context())
	if traceInfo.ProjectID == "" {
		traceInfo.ProjectID = projectID
	}
	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("method", SanitizeMethod(r.Method)),
		zap.String("path", SanitizeRoute(requestPath(r))),
		zap.String("trace_id", traceInfo.TraceID),
	}
	if resource := loggingTraceResource(traceInfo); resource != "" {
		fields = append(fields, zap.String("logging.googleapis.com/trace", resource))
	}
	if ip := realIP(r); ip != "" {
		fields = append(fields, zap.String("remote_ip", ip))
	}
	return WithRequestFields(requestctx.Logger(r.Context()), fields...)
}

func completionFields(recorder *responseRecorder, status int, latency time.Duration) []zap.Field {
	fields := []zap.Field{
		zap.Int("status", status),
		zap.Duration("latency", latency),
		zap.Int64("bytes", recorder.BytesWritten()),
	}
	if recorder.Header().Get(replayHeader) == "true" {
		fields = append(fields, zap.Bool("idempotent_replay", true))
	}
	return fields
}

func logCompletion(logger *zap.Logger, status int, fields []zap.Field) {
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request completed", fields...)
	case status >= http.StatusBadRequest:
		logger.Warn("request completed", fields...)
	default:
		logger.Info("request completed", fields...)
	}
}

// RecoveryMiddleware turns a panic into the standard 500 envelope and logs the stack.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = requestctx.NoopLogger()
	}
	return func(next http.Handler) http.Handler {
		next = orNoop(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				logger := requestctx.Logger(r.Context())
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered",
					zap.String("path", SanitizeRoute(requestPath(r))),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				httpx.WriteError(r.Context(), w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func orNoop(next http.Handler) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return next
}

func requestPath(r *http.Request) string {
	if r == nil || r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

// routePattern is only meaningful after chi has routed the request.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return requestPath(r)
}

func realIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return sanitizeString(addr, 64)
}

func loggingTraceResource(info requestctx.TraceInfo) string {
	if info.ProjectID == "" || info.TraceID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/traces/%s", info.ProjectID, info.TraceID)
}

func annotateSpan(span trace.Span, route string, status int) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(
		semconv.HTTPResponseStatusCode(status),
		semconv.HTTPRoute(SanitizeRoute(route)),
	)
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
		return
	}
	span.SetStatus(codes.Ok, http.StatusText(status))
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *responseRecorder) WriteHeader(status int) {
	if status < 100 {
		status = http.StatusOK
	}
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *responseRecorder) Status() int {
	return r.status
}

func (r *responseRecorder) BytesWritten() int64 {
	return r.bytes
}
