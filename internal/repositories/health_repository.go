package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/garage-pos/settlement/internal/domain"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// DependencyCheck describes a dependency probe executed during readiness checks. A failing
// Critical dependency marks the whole report as error; other failures only degrade it.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Critical bool
	Check    func(context.Context) error
}

// DependencyHealthOption customises the dependency-backed health repository.
type DependencyHealthOption func(*dependencyHealthRepository)

// WithDependencyTimeout overrides the timeout applied when a check omits its own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if timeout > 0 {
			repo.defaultTimeout = timeout
		}
	}
}

// WithDependencyClock injects a custom clock, primarily for tests.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type dependencyHealthRepository struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository validates the check set and returns a HealthRepository
// probing every dependency concurrently.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	seen := make(map[string]struct{}, len(checks))
	for _, check := range checks {
		name := strings.TrimSpace(check.Name)
		if name == "" {
			return nil, errors.New("health repository: dependency check missing name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health repository: dependency %s missing check function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: duplicate dependency %s", name)
		}
		seen[name] = struct{}{}
	}

	repo := &dependencyHealthRepository{
		checks:         append([]DependencyCheck(nil), checks...),
		defaultTimeout: defaultDependencyTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health repository: context is required")
	}

	results := make([]domain.SystemHealthCheck, len(r.checks))
	var wg sync.WaitGroup
	for i, check := range r.checks {
		wg.Add(1)
		go func(i int, check DependencyCheck) {
			defer wg.Done()
			results[i] = r.probe(ctx, check)
		}(i, check)
	}
	wg.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.SystemHealthCheck, len(results)),
		GeneratedAt: r.now(),
	}
	for i, result := range results {
		check := r.checks[i]
		report.Checks[strings.TrimSpace(check.Name)] = result
		if result.Status == domain.HealthStatusOK {
			continue
		}
		status := domain.HealthStatusDegraded
		if check.Critical || result.Status == domain.HealthStatusError {
			status = domain.HealthStatusError
		}
		report.Status = worstStatus(report.Status, status)
	}
	return report, nil
}

func (r *dependencyHealthRepository) probe(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := check.Check(checkCtx)
	end := r.now()

	result := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	if err == nil && checkCtx.Err() != nil {
		err = checkCtx.Err()
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
		result.Error = err.Error()
	case errors.Is(err, context.Canceled):
		result.Status = domain.HealthStatusError
		result.Detail = "cancelled"
		result.Error = err.Error()
	default:
		result.Status = domain.HealthStatusDegraded
		result.Detail = "unhealthy"
		result.Error = err.Error()
	}
	return result
}

func worstStatus(current, next string) string {
	rank := map[string]int{
		domain.HealthStatusOK:       0,
		domain.HealthStatusDegraded: 1,
		domain.HealthStatusError:    2,
	}
	if rank[next] > rank[current] {
		return next
	}
	return current
}
