package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedRouter(logger *zap.Logger, handler http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(InjectLoggerMiddleware(logger))
	r.Use(RecoveryMiddleware(logger))
	r.Use(RequestLoggerMiddleware("garage-prod"))
	r.Post("/settle-order", handler)
	return r
}

func TestRequestLoggerFlagsReplayedResponses(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := newObservedRouter(zap.New(core), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(replayHeader, "true")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/settle-order", nil))

	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header to be echoed")
	}
	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level, got %s", entries[0].Level)
	}
	if fields["idempotent_replay"] != true || fields["status"] != int64(http.StatusOK) {
		t.Fatalf("unexpected completion fields: %v", fields)
	}
	if fields["request_id"] == "" || fields["path"] != "/settle-order" {
		t.Fatalf("expected request fields, got %v", fields)
	}
}

func TestRequestLoggerLevelFollowsStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := newObservedRouter(zap.New(core), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/settle-order", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %+v", entries)
	}
	if _, ok := entries[0].ContextMap()["idempotent_replay"]; ok {
		t.Fatalf("did not expect replay flag on a fresh response")
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := newObservedRouter(zap.New(core), func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/settle-order", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["success"] != false || body["code"] != "internal_server_error" {
		t.Fatalf("unexpected envelope: %v", body)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 || completed[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected error completion entry, got %+v", completed)
	}
}
