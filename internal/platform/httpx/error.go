package httpx

import (
	"context"
	"maps"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/garage-pos/settlement/internal/platform/requestctx"
)

// Error represents the canonical JSON error envelope returned by the API.
type Error struct {
	Code      string
	Message   string
	Detail    string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError constructs a new Error with the provided parameters.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// WithDetail attaches the underlying failure description, rendered as the "error" field.
func (e Error) WithDetail(detail string) Error {
	e.Detail = sanitize(detail, 512)
	return e
}

// WithRequestID sets the request identifier on the error payload.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = sanitize(id, 80)
	return e
}

// WithTraceID sets the trace identifier on the error payload.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = sanitize(id, 64)
	return e
}

// WithDetails attaches additional JSON-serialisable metadata.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	e.Details = maps.Clone(details)
	return e
}

// WriteError writes the structured error as JSON to the provided response writer.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	requestID := err.RequestID
	if requestID == "" {
		requestID = sanitize(middleware.GetReqID(ctx), 80)
	}
	traceID := err.TraceID
	if traceID == "" {
		traceID = sanitize(requestctx.TraceID(ctx), 64)
	}

	payload := make(map[string]any, len(err.Details)+6)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["success"] = false
	payload["message"] = err.Message
	payload["code"] = err.Code
	if err.Detail != "" {
		payload["error"] = err.Detail
	}
	if requestID != "" {
		payload["request_id"] = requestID
	}
	if traceID != "" {
		payload["trace_id"] = traceID
	}

	WriteJSON(w, status, payload)
}

func sanitize(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	return Truncate(strings.TrimSpace(value), limit)
}

// Truncate shortens value to at most limit bytes without splitting a UTF-8 sequence.
func Truncate(value string, limit int) string {
	if limit < 0 {
		limit = 0
	}
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
