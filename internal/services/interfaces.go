package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/garage-pos/settlement/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order                = domain.Order
	SalesInvoice         = domain.SalesInvoice
	TechnicianCommission = domain.TechnicianCommission
	Employee             = domain.Employee
	SystemHealthReport   = domain.SystemHealthReport
)

// SettlementService converts live orders into sales invoices and technician commissions, and
// serves the read-side ledgers produced by settlement.
type SettlementService interface {
	SettleOrder(ctx context.Context, cmd SettleOrderCommand) (SettlementResult, error)
	TechnicianCommissions(ctx context.Context, technicianID string, limit int) (CommissionHistory, error)
	SalesInvoices(ctx context.Context, providerID string, limit int) ([]SalesInvoice, error)
}

// SystemService exposes operational metadata for health endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// SettleOrderCommand identifies the order to settle. OrderID accepts any identifier shape the
// caller received: a hex string, a native object id, or a wrapped reference object.
type SettleOrderCommand struct {
	OrderID any
}

// SettlementResult reports the records written by a successful settlement.
type SettlementResult struct {
	Success      bool
	OrderID      string
	InvoiceID    string
	CommissionID string
}

// CommissionHistory is a technician's newest-first commission page and its total.
type CommissionHistory struct {
	Commissions []TechnicianCommission
	TotalEarned decimal.Decimal
}

// SettlementEventPublisher publishes settlement events for downstream consumers.
type SettlementEventPublisher interface {
	PublishSettlementEvent(ctx context.Context, event SettlementEvent) error
}

// SettlementEvent describes a completed settlement.
type SettlementEvent struct {
	Type             string
	OrderID          string
	InvoiceID        string
	ProviderID       string
	TechnicianID     string
	CommissionID     string
	TotalAmount      decimal.Decimal
	CommissionAmount decimal.Decimal
	OccurredAt       time.Time
}
