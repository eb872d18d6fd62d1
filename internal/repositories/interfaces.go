package repositories

import (
	"context"

	domain "github.com/garage-pos/settlement/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repositories called
// with the context handed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository owns the live orders collection.
type OrderRepository interface {
	// Claim deletes the order and returns the deleted document. Exactly one concurrent caller
	// wins; the others receive a RepositoryError with IsNotFound.
	Claim(ctx context.Context, orderID string) (domain.Order, error)
	// Restore re-inserts a previously claimed order under its original identifier.
	Restore(ctx context.Context, order domain.Order) error
}

// SalesInvoiceRepository persists settled invoice snapshots.
type SalesInvoiceRepository interface {
	Insert(ctx context.Context, invoice domain.SalesInvoice) error
	Delete(ctx context.Context, invoiceID string) error
	ListByProvider(ctx context.Context, filter SalesInvoiceFilter) ([]domain.SalesInvoice, error)
}

// SalesInvoiceFilter selects a provider's invoices. CanonicalID is set when the provider id
// normalised; RawID always carries the trimmed value supplied by the caller.
type SalesInvoiceFilter struct {
	CanonicalID string
	RawID       string
	Limit       int
}

// TechnicianCommissionRepository persists commission ledger entries.
type TechnicianCommissionRepository interface {
	Insert(ctx context.Context, commission domain.TechnicianCommission) error
	Delete(ctx context.Context, commissionID string) error
	ListByTechnician(ctx context.Context, technicianID string, limit int) ([]domain.TechnicianCommission, error)
}

// EmployeeRepository reads staff profiles.
type EmployeeRepository interface {
	FindByID(ctx context.Context, employeeID string) (domain.Employee, error)
}

// HealthRepository aggregates dependency health for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Registry exposes the repositories and transaction boundary of one store backend.
type Registry interface {
	Orders() OrderRepository
	SalesInvoices() SalesInvoiceRepository
	TechnicianCommissions() TechnicianCommissionRepository
	Employees() EmployeeRepository
	// UnitOfWork returns nil when the backend cannot span collections in one transaction.
	UnitOfWork() UnitOfWork
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
