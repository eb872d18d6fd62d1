// Package mongo implements the settlement repositories on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domain "github.com/garage-pos/settlement/internal/domain"
	"github.com/garage-pos/settlement/internal/platform/config"
	pmongo "github.com/garage-pos/settlement/internal/platform/mongo"
	"github.com/garage-pos/settlement/internal/repositories"
)

// Store wires the settlement repositories onto one Mongo database.
type Store struct {
	client      *pmongo.Client
	orders      *OrderRepository
	invoices    *SalesInvoiceRepository
	commissions *TechnicianCommissionRepository
	employees   *EmployeeRepository
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs the Mongo registry using the configured collection names.
func NewStore(client *pmongo.Client, collections config.CollectionConfig) (*Store, error) {
	if client == nil {
		return nil, errors.New("mongo store requires client")
	}
	return &Store{
		client:      client,
		orders:      &OrderRepository{coll: client.Collection(collections.Orders)},
		invoices:    &SalesInvoiceRepository{coll: client.Collection(collections.Invoices)},
		commissions: &TechnicianCommissionRepository{coll: client.Collection(collections.Commissions)},
		employees:   &EmployeeRepository{coll: client.Collection(collections.Employees)},
	}, nil
}

func (s *Store) Orders() repositories.OrderRepository { return s.orders }

func (s *Store) SalesInvoices() repositories.SalesInvoiceRepository { return s.invoices }

func (s *Store) TechnicianCommissions() repositories.TechnicianCommissionRepository {
	return s.commissions
}

func (s *Store) Employees() repositories.EmployeeRepository { return s.employees }

// UnitOfWork is nil unless transactions are enabled; standalone servers reject them.
func (s *Store) UnitOfWork() repositories.UnitOfWork {
	if !s.client.TransactionsEnabled() {
		return nil
	}
	return unitOfWork{client: s.client}
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func (s *Store) Close(ctx context.Context) error { return s.client.Close(ctx) }

// EnsureIndexes creates the indexes backing the list queries.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{
			coll: s.invoices.coll,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: domain.FieldProviderID, Value: 1}, {Key: domain.FieldSavedAt, Value: -1}},
				Options: options.Index().SetName("provider_saved_at"),
			},
		},
		{
			coll: s.commissions.coll,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: domain.FieldTechnicianID, Value: 1}, {Key: domain.FieldCreatedAt, Value: -1}},
				Options: options.Index().SetName("technician_created_at"),
			},
		},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("mongo: create index on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

type unitOfWork struct {
	client *pmongo.Client
}

func (u unitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return u.client.RunTransaction(ctx, fn)
}

func withID(id string, doc map[string]any) bson.M {
	out := bson.M(doc)
	out[domain.FieldID] = pmongo.DocumentID(id)
	return out
}

func decodeAll(ctx context.Context, cursor *mongo.Cursor, op string) ([]map[string]any, error) {
	defer cursor.Close(ctx)
	var out []map[string]any
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, pmongo.WrapError(op, err)
		}
		out = append(out, pmongo.NormalizeDocument(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, pmongo.WrapError(op, err)
	}
	return out, nil
}

func findOptions(sortField string, limit int) *options.FindOptions {
	opts := options.Find().SetSort(bson.D{{Key: sortField, Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return opts
}
