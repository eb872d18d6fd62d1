package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	domain "github.com/garage-pos/settlement/internal/domain"
	pmongo "github.com/garage-pos/settlement/internal/platform/mongo"
)

// OrderRepository implements repositories.OrderRepository.
type OrderRepository struct {
	coll *mongo.Collection
}

// Claim removes the order with FindOneAndDelete; the server hands the document to exactly one
// caller.
func (r *OrderRepository) Claim(ctx context.Context, orderID string) (domain.Order, error) {
	var raw bson.M
	err := r.coll.FindOneAndDelete(ctx, bson.M{domain.FieldID: pmongo.DocumentID(orderID)}).Decode(&raw)
	if err != nil {
		return domain.Order{}, pmongo.WrapError("orders.claim", err)
	}
	return domain.OrderFromDocument(orderID, pmongo.NormalizeDocument(raw)), nil
}

func (r *OrderRepository) Restore(ctx context.Context, order domain.Order) error {
	_, err := r.coll.InsertOne(ctx, withID(order.ID, order.Document()))
	return pmongo.WrapError("orders.restore", err)
}
