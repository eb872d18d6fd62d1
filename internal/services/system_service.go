package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/garage-pos/settlement/internal/domain"
	"github.com/garage-pos/settlement/internal/repositories"
)

// settlementCheck is the readiness entry summarising whether orders can be settled.
const settlementCheck = "settlement"

// storeCheck is the dependency check the settlement entry follows.
const storeCheck = "store"

// SettlementRuntime is re-exported for callers wiring the system service.
type SettlementRuntime = domain.SettlementRuntime

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	Settlement       SettlementRuntime
}

type systemService struct {
	health  repositories.HealthRepository
	now     func() time.Time
	build   BuildInfo
	runtime SettlementRuntime
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the readiness reporter. Besides the dependency checks the
// report names the settlement mode, so operators can see whether failures roll back in a
// transaction or through compensation.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		health:  deps.HealthRepository,
		now:     func() time.Time { return clock().UTC() },
		build:   deps.Build,
		runtime: deps.Settlement,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	svc.runtime.StoreDriver = strings.TrimSpace(svc.runtime.StoreDriver)
	return svc, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if report.Version == "" {
		report.Version = s.build.Version
	}
	if report.CommitSHA == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if report.Environment == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}

	report.Settlement = s.runtime
	report.Checks[settlementCheck] = s.settlementHealth(report.Checks, now)
	report.Status = overallStatus(report.Status, report.Checks)
	return report, nil
}

// settlementHealth mirrors the store check: settlement can only run when its store answers.
func (s *systemService) settlementHealth(checks map[string]domain.SystemHealthCheck, now time.Time) domain.SystemHealthCheck {
	mode := "compensating"
	if s.runtime.Transactional {
		mode = "transactional"
	}
	driver := s.runtime.StoreDriver
	if driver == "" {
		driver = "unknown"
	}
	result := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    fmt.Sprintf("%s store, %s rollback", driver, mode),
		CheckedAt: now,
	}
	if store, ok := checks[storeCheck]; ok && store.Status != domain.HealthStatusOK && store.Status != "" {
		result.Status = domain.HealthStatusError
		result.Error = "orders cannot be settled while the store is " + store.Status
	}
	return result
}

func overallStatus(reported string, checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	if strings.TrimSpace(reported) != "" {
		status = reported
	}
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
		}
	}
	return status
}
