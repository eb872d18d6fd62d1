package observability

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/garage-pos/settlement/internal/platform/requestctx"
)

const (
	cloudTraceHeader  = "X-Cloud-Trace-Context"
	idempotencyHeader = "Idempotency-Key"
)

var tracer = otel.Tracer("github.com/garage-pos/settlement/internal/platform/observability")

// TraceMiddleware continues an incoming Cloud Trace context when present and records
// the resulting ids on the request context for logging and error envelopes.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		next = orNoop(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, remote, ok := parseCloudTraceContext(r.Header.Get(cloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}

			ctx, span := tracer.Start(ctx, r.Method+" "+requestPath(r),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(requestAttributes(r)...),
			)
			defer span.End()

			info := requestctx.TraceInfo{ProjectID: projectID}
			if sc := span.SpanContext(); sc.IsValid() {
				info.TraceID = sc.TraceID().String()
				info.SpanID = sc.SpanID().String()
				info.Sampled = sc.IsSampled()
			}
			if header := formatCloudTraceHeader(info); header != "" {
				w.Header().Set(cloudTraceHeader, header)
			}

			next.ServeHTTP(w, r.WithContext(requestctx.WithTrace(ctx, info)))
		})
	}
}

// parseCloudTraceContext reads "TRACE_ID/SPAN_ID;o=OPTIONS". The span id is decimal in the
// Cloud Trace format but some proxies forward it as hex, so both are accepted.
func parseCloudTraceContext(header string) (requestctx.TraceInfo, trace.SpanContext, bool) {
	traceHex, rest, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found || len(traceHex) != 32 {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}

	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseSpanID(strings.TrimSpace(spanPart))
	if !ok {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}

	sampled := strings.TrimSpace(options) == "o=1"
	var flags trace.TraceFlags
	if sampled {
		flags = trace.FlagsSampled
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return requestctx.TraceInfo{TraceID: traceID.String(), SpanID: spanID.String(), Sampled: sampled}, sc, true
}

func parseSpanID(value string) (trace.SpanID, bool) {
	var spanID trace.SpanID
	if value == "" {
		return spanID, false
	}
	if num, err := strconv.ParseUint(value, 10, 64); err == nil {
		binary.BigEndian.PutUint64(spanID[:], num)
		return spanID, spanID.IsValid()
	}
	if len(value) > 16 {
		return spanID, false
	}
	parsed, err := trace.SpanIDFromHex(strings.Repeat("0", 16-len(value)) + value)
	if err != nil {
		return spanID, false
	}
	return parsed, true
}

func formatCloudTraceHeader(info requestctx.TraceInfo) string {
	if info.TraceID == "" || info.SpanID == "" {
		return ""
	}
	option := 0
	if info.Sampled {
		option = 1
	}
	return fmt.Sprintf("%s/%s;o=%d", info.TraceID, info.SpanID, option)
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", r.Method),
		attribute.String("url.scheme", scheme),
		attribute.String("url.path", requestPath(r)),
		attribute.Bool("settlement.idempotency_key.present", strings.TrimSpace(r.Header.Get(idempotencyHeader)) != ""),
	}
	if r.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.request.body.size", r.ContentLength))
	}
	if r.Host != "" {
		attrs = append(attrs, attribute.String("server.address", r.Host))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", sanitizeString(ua, 0)))
	}
	return attrs
}
