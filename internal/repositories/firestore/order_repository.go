package firestore

import (
	"context"

	domain "github.com/garage-pos/settlement/internal/domain"
	pfirestore "github.com/garage-pos/settlement/internal/platform/firestore"
)

// OrderRepository implements repositories.OrderRepository over the live orders collection.
type OrderRepository struct {
	docs *pfirestore.Collection
}

// Claim reads and deletes the order in one transaction; concurrent claims contend on the
// document and the losers observe it missing.
func (r *OrderRepository) Claim(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.docs.Take(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return domain.OrderFromDocument(doc.ID, doc.Data), nil
}

func (r *OrderRepository) Restore(ctx context.Context, order domain.Order) error {
	return r.docs.Create(ctx, order.ID, order.Document())
}
