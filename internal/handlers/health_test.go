package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/garage-pos/settlement/internal/domain"
	"github.com/garage-pos/settlement/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "staging",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	handlers.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["version"] != "1.0.0" {
		t.Fatalf("expected version 1.0.0, got %v", body["version"])
	}
	if body["commitSha"] != "abc123" {
		t.Fatalf("expected commit abc123, got %v", body["commitSha"])
	}
	if body["environment"] != "staging" {
		t.Fatalf("expected environment staging, got %v", body["environment"])
	}
}

func TestHealthHandlersReadyzSuccess(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	svc := &stubSystemService{
		report: services.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "staging",
			Uptime:      time.Minute,
			GeneratedAt: now,
			Checks: map[string]domain.SystemHealthCheck{
				"store": {Status: domain.HealthStatusOK, Latency: 10 * time.Millisecond, CheckedAt: now},
			},
		},
	}

	handlers := NewHealthHandlers(
		WithHealthSystemService(svc),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	handlers.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if body.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if len(body.Details) != 0 {
		t.Fatalf("expected no details, got %v", body.Details)
	}
	if body.Checks["store"].Status != domain.HealthStatusOK {
		t.Fatalf("expected store status ok, got %s", body.Checks["store"].Status)
	}
}

func TestHealthHandlersReadyzFailure(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	svc := &stubSystemService{
		report: services.SystemHealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.SystemHealthCheck{
				"pubsub": {Status: domain.HealthStatusDegraded, Error: "topic settlement-events does not exist"},
				"store":  {Status: domain.HealthStatusOK},
			},
		},
	}

	handlers := NewHealthHandlers(
		WithHealthSystemService(svc),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	handlers.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var body struct {
		Status  string   `json:"status"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if body.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected status degraded, got %s", body.Status)
	}
	if len(body.Details) != 1 || body.Details[0] != "pubsub: topic settlement-events does not exist" {
		t.Fatalf("expected details with pubsub failure, got %v", body.Details)
	}
}

func TestHealthHandlersReadyzReportError(t *testing.T) {
	handlers := NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: errors.New("context is required")}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	handlers.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["code"] != "health_unavailable" || body["success"] != false {
		t.Fatalf("unexpected error envelope: %v", body)
	}
}

func TestHealthHandlersReadyzReportsSettlementRuntime(t *testing.T) {
	now := time.Date(2025, 5, 4, 9, 30, 0, 0, time.UTC)
	handlers := NewHealthHandlers(WithHealthSystemService(&stubSystemService{
		report: services.SystemHealthReport{
			Status: domain.HealthStatusOK,
			Checks: map[string]domain.SystemHealthCheck{
				"settlement": {Status: domain.HealthStatusOK, Detail: "mongo store, compensating rollback", CheckedAt: now},
			},
			GeneratedAt: now,
			Settlement: services.SettlementRuntime{
				StoreDriver:      "mongo",
				IdempotencyStore: "redis",
				EventsEnabled:    true,
			},
		},
	}))

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body struct {
		Settlement struct {
			StoreDriver      string `json:"storeDriver"`
			Transactional    bool   `json:"transactional"`
			IdempotencyStore string `json:"idempotencyStore"`
			EventsEnabled    bool   `json:"eventsEnabled"`
		} `json:"settlement"`
		Checks map[string]struct {
			Detail string `json:"detail"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Settlement.StoreDriver != "mongo" || body.Settlement.Transactional ||
		body.Settlement.IdempotencyStore != "redis" || !body.Settlement.EventsEnabled {
		t.Fatalf("unexpected settlement runtime %+v", body.Settlement)
	}
	if body.Checks["settlement"].Detail != "mongo store, compensating rollback" {
		t.Fatalf("expected settlement check detail, got %+v", body.Checks)
	}
}

var _ services.SystemService = (*stubSystemService)(nil)
