package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	"github.com/garage-pos/settlement/internal/platform/config"
	pfirestore "github.com/garage-pos/settlement/internal/platform/firestore"
	"github.com/garage-pos/settlement/internal/repositories"
)

// Store wires the settlement repositories onto one Firestore provider.
type Store struct {
	provider    *pfirestore.Provider
	orders      *OrderRepository
	invoices    *SalesInvoiceRepository
	commissions *TechnicianCommissionRepository
	employees   *EmployeeRepository
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs the Firestore registry using the configured collection names.
func NewStore(provider *pfirestore.Provider, collections config.CollectionConfig) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store requires provider")
	}
	return &Store{
		provider:    provider,
		orders:      &OrderRepository{docs: pfirestore.NewCollection(provider, collections.Orders)},
		invoices:    &SalesInvoiceRepository{docs: pfirestore.NewCollection(provider, collections.Invoices)},
		commissions: &TechnicianCommissionRepository{docs: pfirestore.NewCollection(provider, collections.Commissions)},
		employees:   &EmployeeRepository{docs: pfirestore.NewCollection(provider, collections.Employees)},
	}, nil
}

func (s *Store) Orders() repositories.OrderRepository { return s.orders }

func (s *Store) SalesInvoices() repositories.SalesInvoiceRepository { return s.invoices }

func (s *Store) TechnicianCommissions() repositories.TechnicianCommissionRepository {
	return s.commissions
}

func (s *Store) Employees() repositories.EmployeeRepository { return s.employees }

func (s *Store) UnitOfWork() repositories.UnitOfWork { return unitOfWork{provider: s.provider} }

func (s *Store) Ping(ctx context.Context) error { return s.provider.Ping(ctx) }

func (s *Store) Close(ctx context.Context) error { return s.provider.Close(ctx) }

// unitOfWork runs the settlement steps in one Firestore transaction. Firestore requires every
// transactional read to precede the first write, so only the order claim reads through it.
type unitOfWork struct {
	provider *pfirestore.Provider
}

func (u unitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return u.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}
