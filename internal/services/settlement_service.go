package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"

	domain "github.com/garage-pos/settlement/internal/domain"
	"github.com/garage-pos/settlement/internal/platform/objectid"
	"github.com/garage-pos/settlement/internal/repositories"
)

const (
	instrumentationName = "github.com/garage-pos/settlement/internal/services"

	// SettlementEventCompleted is published after an order settles.
	SettlementEventCompleted = "settlement.completed"

	defaultSettlementListLimit = 50
	maxSettlementListLimit     = 200
)

var (
	// ErrSettlementInvalidInput indicates a malformed or missing identifier.
	ErrSettlementInvalidInput = errors.New("settlement: invalid input")
	// ErrSettlementOrderNotFound indicates the order does not exist or was already settled.
	ErrSettlementOrderNotFound = errors.New("settlement: order not found")
	// ErrSettlementStorage indicates the store failed while reading or writing.
	ErrSettlementStorage = errors.New("settlement: storage failure")
)

// SettlementServiceDeps bundles collaborators required to construct the settlement service.
type SettlementServiceDeps struct {
	Orders      repositories.OrderRepository
	Invoices    repositories.SalesInvoiceRepository
	Commissions repositories.TechnicianCommissionRepository
	Employees   repositories.EmployeeRepository
	// UnitOfWork is nil for stores without multi-collection transactions; completed steps are
	// then undone in reverse order when a later step fails.
	UnitOfWork   repositories.UnitOfWork
	Clock        func() time.Time
	IDGenerator  func() string
	Events       SettlementEventPublisher
	Logger       func(ctx context.Context, event string, fields map[string]any)
	Tracer       trace.Tracer
	Meter        metric.Meter
	DefaultLimit int
	MaxLimit     int
}

type settlementService struct {
	orders       repositories.OrderRepository
	invoices     repositories.SalesInvoiceRepository
	commissions  repositories.TechnicianCommissionRepository
	employees    repositories.EmployeeRepository
	unitOfWork   repositories.UnitOfWork
	clock        func() time.Time
	newID        func() string
	events       SettlementEventPublisher
	logger       func(context.Context, string, map[string]any)
	tracer       trace.Tracer
	completed    metric.Int64Counter
	failed       metric.Int64Counter
	compensated  metric.Int64Counter
	defaultLimit int
	maxLimit     int
}

var _ SettlementService = (*settlementService)(nil)

// NewSettlementService wires dependencies into a concrete SettlementService implementation.
func NewSettlementService(deps SettlementServiceDeps) (SettlementService, error) {
	if deps.Orders == nil {
		return nil, errors.New("settlement service: order repository is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("settlement service: sales invoice repository is required")
	}
	if deps.Commissions == nil {
		return nil, errors.New("settlement service: technician commission repository is required")
	}
	if deps.Employees == nil {
		return nil, errors.New("settlement service: employee repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = objectid.New
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}

	defaultLimit := deps.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = defaultSettlementListLimit
	}
	maxLimit := deps.MaxLimit
	if maxLimit <= 0 {
		maxLimit = maxSettlementListLimit
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}

	svc := &settlementService{
		orders:      deps.Orders,
		invoices:    deps.Invoices,
		commissions: deps.Commissions,
		employees:   deps.Employees,
		unitOfWork:  deps.UnitOfWork,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:        idGen,
		events:       deps.Events,
		logger:       logger,
		tracer:       tracer,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}

	if counter, err := meter.Int64Counter("settlement.completed", metric.WithDescription("Orders settled into sales invoices")); err == nil {
		svc.completed = counter
	}
	if counter, err := meter.Int64Counter("settlement.failed", metric.WithDescription("Settlement attempts that returned an error")); err == nil {
		svc.failed = counter
	}
	if counter, err := meter.Int64Counter("settlement.compensations", metric.WithDescription("Settlement steps undone after a failed attempt")); err == nil {
		svc.compensated = counter
	}
	return svc, nil
}

type settlementOutcome struct {
	order      Order
	invoice    SalesInvoice
	commission *TechnicianCommission
}

func (s *settlementService) SettleOrder(ctx context.Context, cmd SettleOrderCommand) (SettlementResult, error) {
	orderID, err := objectid.Normalize(cmd.OrderID)
	if err != nil {
		s.recordFailure(ctx, "invalid_input")
		return SettlementResult{}, fmt.Errorf("%w: order id: %w", ErrSettlementInvalidInput, err)
	}

	ctx, span := s.tracer.Start(ctx, "settlement.SettleOrder", trace.WithAttributes(
		attribute.String("settlement.order_id", orderID),
		attribute.Bool("settlement.transactional", s.unitOfWork != nil),
	))
	defer span.End()

	var outcome settlementOutcome
	if s.unitOfWork != nil {
		err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
			var runErr error
			outcome, runErr = s.settle(txCtx, orderID, nil)
			return runErr
		})
	} else {
		undo := &compensationLog{}
		outcome, err = s.settle(ctx, orderID, undo)
		if err != nil {
			s.compensate(ctx, orderID, undo)
		}
	}
	if err != nil {
		err = classifySettlementError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordFailure(ctx, failureReason(err))
		return SettlementResult{}, err
	}

	result := SettlementResult{
		Success:   true,
		OrderID:   orderID,
		InvoiceID: outcome.invoice.ID,
	}
	fields := map[string]any{
		"order":   orderID,
		"invoice": outcome.invoice.ID,
		"total":   outcome.order.TotalAmount.StringFixed(2),
	}
	event := SettlementEvent{
		Type:         SettlementEventCompleted,
		OrderID:      orderID,
		InvoiceID:    outcome.invoice.ID,
		ProviderID:   outcome.invoice.ProviderID,
		TechnicianID: outcome.invoice.TechnicianID,
		TotalAmount:  outcome.order.TotalAmount,
		OccurredAt:   outcome.invoice.SavedAt,
	}
	if outcome.commission != nil {
		result.CommissionID = outcome.commission.ID
		fields["commission"] = outcome.commission.ID
		fields["commissionAmount"] = outcome.commission.Amount.StringFixed(2)
		event.TechnicianID = outcome.commission.TechnicianID
		event.CommissionID = outcome.commission.ID
		event.CommissionAmount = outcome.commission.Amount
	}

	span.SetAttributes(attribute.String("settlement.invoice_id", result.InvoiceID))
	if s.completed != nil {
		s.completed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("commission", outcome.commission != nil)))
	}
	s.logger(ctx, "settlement.completed", fields)
	s.publishEvent(ctx, event)
	return result, nil
}

// settle runs the claim, invoice and commission steps. When undo is non-nil each completed
// step registers its inverse so a later failure can be rolled back.
func (s *settlementService) settle(ctx context.Context, orderID string, undo *compensationLog) (settlementOutcome, error) {
	span := trace.SpanFromContext(ctx)
	now := s.clock()

	order, err := s.orders.Claim(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return settlementOutcome{}, fmt.Errorf("%w: %s", ErrSettlementOrderNotFound, orderID)
		}
		return settlementOutcome{}, storageError("claim order", err)
	}
	undo.push("restore order", func(ctx context.Context) error {
		return s.orders.Restore(ctx, order)
	})
	span.AddEvent("order.claimed")

	invoice := s.buildInvoice(order, orderID, now)
	if err := s.invoices.Insert(ctx, invoice); err != nil {
		return settlementOutcome{}, storageError("insert sales invoice", err)
	}
	undo.push("delete sales invoice", func(ctx context.Context) error {
		return s.invoices.Delete(ctx, invoice.ID)
	})
	span.AddEvent("invoice.inserted", trace.WithAttributes(attribute.String("settlement.invoice_id", invoice.ID)))

	commission, err := s.recordCommission(ctx, order, orderID, invoice.ID, now, undo)
	if err != nil {
		return settlementOutcome{}, err
	}
	return settlementOutcome{order: order, invoice: invoice, commission: commission}, nil
}

func (s *settlementService) buildInvoice(order Order, orderID string, now time.Time) SalesInvoice {
	fields := maps.Clone(order.Fields)
	if fields == nil {
		fields = map[string]any{}
	}
	return SalesInvoice{
		ID:              s.newID(),
		OriginalOrderID: orderID,
		ProviderID:      embeddedID(fields, domain.FieldProviderID, order.ProviderRef),
		TechnicianID:    embeddedID(fields, domain.FieldTechnicianID, order.TechnicianRef),
		TotalAmount:     order.TotalAmount,
		Status:          order.Status,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
		SavedAt:         now,
		Type:            domain.SalesInvoiceType,
		Fields:          fields,
	}
}

func (s *settlementService) recordCommission(ctx context.Context, order Order, orderID, invoiceID string, now time.Time, undo *compensationLog) (*TechnicianCommission, error) {
	if order.TechnicianRef == nil {
		return nil, nil
	}
	technicianID, err := objectid.Normalize(order.TechnicianRef)
	if err != nil {
		s.skipCommission(ctx, orderID, "", "invalid_technician_id")
		return nil, nil
	}

	employee, err := s.employees.FindByID(ctx, technicianID)
	if err != nil {
		if isRepoNotFound(err) {
			s.skipCommission(ctx, orderID, technicianID, "technician_not_found")
			return nil, nil
		}
		return nil, storageError("lookup technician", err)
	}
	if !isTechnician(employee.Role) {
		s.skipCommission(ctx, orderID, technicianID, "not_technician")
		return nil, nil
	}

	amount, due := ComputeCommission(order.TotalAmount, employee.Commission)
	if !due {
		s.skipCommission(ctx, orderID, technicianID, "no_commission_due")
		return nil, nil
	}

	commission := TechnicianCommission{
		ID:                s.newID(),
		TechnicianID:      technicianID,
		TechnicianName:    employee.Name,
		Amount:            amount,
		CommissionPercent: employee.Commission,
		OrderTotal:        order.TotalAmount,
		OriginalOrderID:   orderID,
		InvoiceID:         invoiceID,
		CreatedAt:         now,
	}
	if err := s.commissions.Insert(ctx, commission); err != nil {
		return nil, storageError("insert technician commission", err)
	}
	undo.push("delete technician commission", func(ctx context.Context) error {
		return s.commissions.Delete(ctx, commission.ID)
	})
	trace.SpanFromContext(ctx).AddEvent("commission.inserted", trace.WithAttributes(
		attribute.String("settlement.commission_id", commission.ID),
	))
	return &commission, nil
}

func (s *settlementService) skipCommission(ctx context.Context, orderID, technicianID, reason string) {
	s.logger(ctx, "settlement.commission.skipped", map[string]any{
		"order":      orderID,
		"technician": technicianID,
		"reason":     reason,
	})
}

// compensate undoes completed steps newest first. Failures are logged and never replace the
// error that triggered the rollback.
func (s *settlementService) compensate(ctx context.Context, orderID string, undo *compensationLog) {
	if undo == nil || len(undo.steps) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	span := trace.SpanFromContext(ctx)
	for i := len(undo.steps) - 1; i >= 0; i-- {
		step := undo.steps[i]
		err := step.fn(ctx)
		if s.compensated != nil {
			s.compensated.Add(ctx, 1, metric.WithAttributes(
				attribute.String("step", step.name),
				attribute.Bool("ok", err == nil),
			))
		}
		if err != nil {
			s.logger(ctx, "settlement.compensation.failed", map[string]any{
				"order": orderID,
				"step":  step.name,
				"error": err.Error(),
			})
			continue
		}
		span.AddEvent("compensated", trace.WithAttributes(attribute.String("step", step.name)))
	}
}

func (s *settlementService) recordFailure(ctx context.Context, reason string) {
	if s.failed == nil {
		return
	}
	s.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (s *settlementService) publishEvent(ctx context.Context, event SettlementEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSettlementEvent(ctx, event); err != nil {
		s.logger(ctx, "settlement.event.publish.failed", map[string]any{
			"type":    event.Type,
			"order":   event.OrderID,
			"invoice": event.InvoiceID,
			"error":   err.Error(),
		})
	}
}

func (s *settlementService) TechnicianCommissions(ctx context.Context, technicianID string, limit int) (CommissionHistory, error) {
	id, err := objectid.Normalize(technicianID)
	if err != nil {
		return CommissionHistory{}, fmt.Errorf("%w: technician id: %w", ErrSettlementInvalidInput, err)
	}

	items, err := s.commissions.ListByTechnician(ctx, id, s.clampLimit(limit))
	if err != nil {
		return CommissionHistory{}, storageError("list technician commissions", err)
	}

	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	if items == nil {
		items = []TechnicianCommission{}
	}
	return CommissionHistory{Commissions: items, TotalEarned: total.Round(2)}, nil
}

func (s *settlementService) SalesInvoices(ctx context.Context, providerID string, limit int) ([]SalesInvoice, error) {
	raw := strings.TrimSpace(providerID)
	if raw == "" {
		return nil, fmt.Errorf("%w: provider id is required", ErrSettlementInvalidInput)
	}

	filter := repositories.SalesInvoiceFilter{RawID: raw, Limit: s.clampLimit(limit)}
	if canonical, err := objectid.Normalize(raw); err == nil {
		filter.CanonicalID = canonical
	}

	invoices, err := s.invoices.ListByProvider(ctx, filter)
	if err != nil {
		return nil, storageError("list sales invoices", err)
	}
	if invoices == nil {
		invoices = []SalesInvoice{}
	}
	return invoices, nil
}

func (s *settlementService) clampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

type compensationStep struct {
	name string
	fn   func(context.Context) error
}

type compensationLog struct {
	steps []compensationStep
}

func (l *compensationLog) push(name string, fn func(context.Context) error) {
	if l == nil {
		return
	}
	l.steps = append(l.steps, compensationStep{name: name, fn: fn})
}

// embeddedID returns the canonical or trimmed raw id for ref. References that resolve to
// neither are kept in fields under key exactly as the order stored them.
func embeddedID(fields map[string]any, key string, ref any) string {
	if ref == nil {
		return ""
	}
	if id, _ := objectid.NormalizeOrRaw(ref); id != "" {
		return id
	}
	fields[key] = ref
	return ""
}

func isTechnician(role string) bool {
	return cases.Fold().String(strings.TrimSpace(role)) == domain.TechnicianRole
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSettlementStorage, op, err)
}

// classifySettlementError keeps known settlement errors and treats anything else returned by
// a unit of work (commit failures, exhausted retries) as a storage failure.
func classifySettlementError(err error) error {
	switch {
	case errors.Is(err, ErrSettlementInvalidInput),
		errors.Is(err, ErrSettlementOrderNotFound),
		errors.Is(err, ErrSettlementStorage):
		return err
	default:
		return storageError("commit settlement", err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSettlementInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrSettlementOrderNotFound):
		return "not_found"
	default:
		return "storage"
	}
}
