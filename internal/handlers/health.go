package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	domain "github.com/garage-pos/settlement/internal/domain"
	"github.com/garage-pos/settlement/internal/platform/httpx"
	"github.com/garage-pos/settlement/internal/services"
)

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService sets the service collecting dependency checks for /readyz.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the time source.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs health handlers. Without a system service /readyz always reports ok.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

type readyzCheck struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

type readyzSettlement struct {
	StoreDriver      string `json:"storeDriver,omitempty"`
	Transactional    bool   `json:"transactional"`
	IdempotencyStore string `json:"idempotencyStore,omitempty"`
	EventsEnabled    bool   `json:"eventsEnabled"`
}

type readyzResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version,omitempty"`
	CommitSHA   string                 `json:"commitSha,omitempty"`
	Environment string                 `json:"environment,omitempty"`
	Uptime      string                 `json:"uptime,omitempty"`
	GeneratedAt string                 `json:"generatedAt"`
	Settlement  *readyzSettlement      `json:"settlement,omitempty"`
	Checks      map[string]readyzCheck `json:"checks"`
	Details     []string               `json:"details,omitempty"`
}

// Healthz reports liveness and build metadata.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	httpx.WriteJSON(w, http.StatusOK, healthzResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz probes dependencies and answers 503 unless every check is ok.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.clock().UTC()
	if h.system == nil {
		httpx.WriteJSON(w, http.StatusOK, readyzResponse{
			Status:      domain.HealthStatusOK,
			GeneratedAt: now.Format(time.RFC3339),
			Checks:      map[string]readyzCheck{},
		})
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_unavailable", "unable to collect health report", http.StatusServiceUnavailable).WithDetail(err.Error()))
		return
	}

	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = now
	}
	resp := readyzResponse{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		GeneratedAt: generated.UTC().Format(time.RFC3339),
		Settlement: &readyzSettlement{
			StoreDriver:      report.Settlement.StoreDriver,
			Transactional:    report.Settlement.Transactional,
			IdempotencyStore: report.Settlement.IdempotencyStore,
			EventsEnabled:    report.Settlement.EventsEnabled,
		},
		Checks: make(map[string]readyzCheck, len(report.Checks)),
	}
	if report.Uptime > 0 {
		resp.Uptime = report.Uptime.Round(time.Second).String()
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		entry := readyzCheck{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
		}
		if !check.CheckedAt.IsZero() {
			entry.CheckedAt = check.CheckedAt.UTC().Format(time.RFC3339)
		}
		resp.Checks[name] = entry
		if check.Status != domain.HealthStatusOK {
			reason := check.Error
			if reason == "" {
				reason = check.Detail
			}
			resp.Details = append(resp.Details, fmt.Sprintf("%s: %s", name, reason))
		}
	}

	status := http.StatusOK
	if resp.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, resp)
}
