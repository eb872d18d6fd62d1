package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SalesInvoiceType is the discriminator stored on every sales invoice snapshot.
const SalesInvoiceType = "sales_invoice"

// TechnicianRole marks employees that may earn commission on settled orders.
const TechnicianRole = "technician"

// Order is a live workshop order awaiting settlement. Only the fields the settlement
// flow reads are typed; every other document field is carried verbatim in Fields.
type Order struct {
	ID            string
	ProviderRef   any
	TechnicianRef any
	TotalAmount   decimal.Decimal
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Fields        map[string]any
}

// SalesInvoice is the immutable snapshot written when an order settles.
type SalesInvoice struct {
	ID              string
	OriginalOrderID string
	ProviderID      string
	TechnicianID    string
	TotalAmount     decimal.Decimal
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	SavedAt         time.Time
	Type            string
	Fields          map[string]any
}

// TechnicianCommission records the commission earned by a technician on a settled order.
type TechnicianCommission struct {
	ID                string
	TechnicianID      string
	TechnicianName    string
	Amount            decimal.Decimal
	CommissionPercent decimal.Decimal
	OrderTotal        decimal.Decimal
	OriginalOrderID   string
	InvoiceID         string
	CreatedAt         time.Time
}

// Employee is the workshop staff profile consulted for commission terms.
type Employee struct {
	ID         string
	Name       string
	Role       string
	Commission decimal.Decimal
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
	Settlement  SettlementRuntime
}

// SettlementRuntime describes how this instance settles orders: which store backs it and
// whether a failed settlement aborts a transaction or is compensated step by step.
type SettlementRuntime struct {
	StoreDriver      string
	Transactional    bool
	IdempotencyStore string
	EventsEnabled    bool
}
