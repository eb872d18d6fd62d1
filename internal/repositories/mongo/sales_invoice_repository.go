package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	domain "github.com/garage-pos/settlement/internal/domain"
	pmongo "github.com/garage-pos/settlement/internal/platform/mongo"
	"github.com/garage-pos/settlement/internal/repositories"
)

// SalesInvoiceRepository implements repositories.SalesInvoiceRepository.
type SalesInvoiceRepository struct {
	coll *mongo.Collection
}

func (r *SalesInvoiceRepository) Insert(ctx context.Context, invoice domain.SalesInvoice) error {
	_, err := r.coll.InsertOne(ctx, withID(invoice.ID, invoice.Document()))
	return pmongo.WrapError("sales_invoice.insert", err)
}

func (r *SalesInvoiceRepository) Delete(ctx context.Context, invoiceID string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{domain.FieldID: pmongo.DocumentID(invoiceID)})
	if err != nil {
		return pmongo.WrapError("sales_invoice.delete", err)
	}
	if res.DeletedCount == 0 {
		return pmongo.NotFound("sales_invoice.delete", invoiceID)
	}
	return nil
}

// ListByProvider matches invoices whose providerId holds either id as a string or as an
// ObjectID.
func (r *SalesInvoiceRepository) ListByProvider(ctx context.Context, filter repositories.SalesInvoiceFilter) ([]domain.SalesInvoice, error) {
	query := bson.M{domain.FieldProviderID: bson.M{"$in": pmongo.IDCandidates(filter.CanonicalID, filter.RawID)}}
	cursor, err := r.coll.Find(ctx, query, findOptions(domain.FieldSavedAt, filter.Limit))
	if err != nil {
		return nil, pmongo.WrapError("sales_invoice.list", err)
	}
	docs, err := decodeAll(ctx, cursor, "sales_invoice.list")
	if err != nil {
		return nil, err
	}
	out := make([]domain.SalesInvoice, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.SalesInvoiceFromDocument(domain.StringValue(doc[domain.FieldID]), doc))
	}
	return out, nil
}
