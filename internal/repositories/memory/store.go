// Package memory provides an in-process store backend used by tests and local development.
// It has no cross-collection transactions, so settlement relies on step compensation.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	domain "github.com/garage-pos/settlement/internal/domain"
	"github.com/garage-pos/settlement/internal/repositories"
)

// Error implements repositories.RepositoryError for the memory backend.
type Error struct {
	op       string
	id       string
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	switch {
	case e.notFound:
		return fmt.Sprintf("%s: %s not found", e.op, e.id)
	case e.conflict:
		return fmt.Sprintf("%s: %s already exists", e.op, e.id)
	default:
		return fmt.Sprintf("%s: %s failed", e.op, e.id)
	}
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return false }

// Store keeps every collection in maps guarded by a single mutex.
type Store struct {
	mu          sync.Mutex
	orders      map[string]domain.Order
	invoices    map[string]domain.SalesInvoice
	commissions map[string]domain.TechnicianCommission
	employees   map[string]domain.Employee
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		orders:      make(map[string]domain.Order),
		invoices:    make(map[string]domain.SalesInvoice),
		commissions: make(map[string]domain.TechnicianCommission),
		employees:   make(map[string]domain.Employee),
	}
}

func (s *Store) Orders() repositories.OrderRepository { return orderRepository{s} }

func (s *Store) SalesInvoices() repositories.SalesInvoiceRepository { return invoiceRepository{s} }

func (s *Store) TechnicianCommissions() repositories.TechnicianCommissionRepository {
	return commissionRepository{s}
}

func (s *Store) Employees() repositories.EmployeeRepository { return employeeRepository{s} }

// UnitOfWork returns nil: the memory backend has no transactions.
func (s *Store) UnitOfWork() repositories.UnitOfWork { return nil }

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close(context.Context) error { return nil }

// PutOrder seeds a live order.
func (s *Store) PutOrder(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = cloneOrder(order)
}

// PutEmployee seeds an employee profile.
func (s *Store) PutEmployee(employee domain.Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees[employee.ID] = employee
}

// Order reports the live order stored under id.
func (s *Store) Order(id string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	return cloneOrder(order), ok
}

// Invoices returns every stored invoice in no particular order.
func (s *Store) Invoices() []domain.SalesInvoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SalesInvoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		out = append(out, cloneInvoice(inv))
	}
	return out
}

// Commissions returns every stored commission in no particular order.
func (s *Store) Commissions() []domain.TechnicianCommission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.commissions))
}

type orderRepository struct{ s *Store }

func (r orderRepository) Claim(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, &Error{op: "orders.claim", id: orderID, notFound: true}
	}
	delete(r.s.orders, orderID)
	return cloneOrder(order), nil
}

func (r orderRepository) Restore(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[order.ID]; exists {
		return &Error{op: "orders.restore", id: order.ID, conflict: true}
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

type invoiceRepository struct{ s *Store }

func (r invoiceRepository) Insert(ctx context.Context, invoice domain.SalesInvoice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.invoices[invoice.ID]; exists {
		return &Error{op: "sales_invoice.insert", id: invoice.ID, conflict: true}
	}
	r.s.invoices[invoice.ID] = cloneInvoice(invoice)
	return nil
}

func (r invoiceRepository) Delete(ctx context.Context, invoiceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.invoices[invoiceID]; !exists {
		return &Error{op: "sales_invoice.delete", id: invoiceID, notFound: true}
	}
	delete(r.s.invoices, invoiceID)
	return nil
}

func (r invoiceRepository) ListByProvider(ctx context.Context, filter repositories.SalesInvoiceFilter) ([]domain.SalesInvoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.SalesInvoice
	for _, inv := range r.s.invoices {
		provider := strings.TrimSpace(inv.ProviderID)
		if provider == "" {
			continue
		}
		if (filter.CanonicalID != "" && provider == filter.CanonicalID) || provider == filter.RawID {
			out = append(out, cloneInvoice(inv))
		}
	}
	slices.SortFunc(out, func(a, b domain.SalesInvoice) int {
		return b.SavedAt.Compare(a.SavedAt)
	})
	return capped(out, filter.Limit), nil
}

type commissionRepository struct{ s *Store }

func (r commissionRepository) Insert(ctx context.Context, commission domain.TechnicianCommission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.commissions[commission.ID]; exists {
		return &Error{op: "technician_commissions.insert", id: commission.ID, conflict: true}
	}
	r.s.commissions[commission.ID] = commission
	return nil
}

func (r commissionRepository) Delete(ctx context.Context, commissionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.commissions[commissionID]; !exists {
		return &Error{op: "technician_commissions.delete", id: commissionID, notFound: true}
	}
	delete(r.s.commissions, commissionID)
	return nil
}

func (r commissionRepository) ListByTechnician(ctx context.Context, technicianID string, limit int) ([]domain.TechnicianCommission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.TechnicianCommission
	for _, c := range r.s.commissions {
		if c.TechnicianID == technicianID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b domain.TechnicianCommission) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return capped(out, limit), nil
}

type employeeRepository struct{ s *Store }

func (r employeeRepository) FindByID(ctx context.Context, employeeID string) (domain.Employee, error) {
	if err := ctx.Err(); err != nil {
		return domain.Employee{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	employee, ok := r.s.employees[employeeID]
	if !ok {
		return domain.Employee{}, &Error{op: "employees.get", id: employeeID, notFound: true}
	}
	return employee, nil
}

func capped[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func cloneOrder(order domain.Order) domain.Order {
	order.Fields = maps.Clone(order.Fields)
	return order
}

func cloneInvoice(inv domain.SalesInvoice) domain.SalesInvoice {
	inv.Fields = maps.Clone(inv.Fields)
	return inv
}
