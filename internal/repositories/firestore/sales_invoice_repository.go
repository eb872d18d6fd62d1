package firestore

import (
	"context"

	"cloud.google.com/go/firestore"

	domain "github.com/garage-pos/settlement/internal/domain"
	pfirestore "github.com/garage-pos/settlement/internal/platform/firestore"
	"github.com/garage-pos/settlement/internal/repositories"
)

// SalesInvoiceRepository implements repositories.SalesInvoiceRepository.
type SalesInvoiceRepository struct {
	docs *pfirestore.Collection
}

func (r *SalesInvoiceRepository) Insert(ctx context.Context, invoice domain.SalesInvoice) error {
	return r.docs.Create(ctx, invoice.ID, invoice.Document())
}

func (r *SalesInvoiceRepository) Delete(ctx context.Context, invoiceID string) error {
	return r.docs.Delete(ctx, invoiceID)
}

// ListByProvider matches the canonical or raw provider id. Requires a composite index on
// (providerId, savedAt desc).
func (r *SalesInvoiceRepository) ListByProvider(ctx context.Context, filter repositories.SalesInvoiceFilter) ([]domain.SalesInvoice, error) {
	ids := []string{filter.RawID}
	if filter.CanonicalID != "" && filter.CanonicalID != filter.RawID {
		ids = append(ids, filter.CanonicalID)
	}

	docs, err := r.docs.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where(domain.FieldProviderID, "in", ids).OrderBy(domain.FieldSavedAt, firestore.Desc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	invoices := make([]domain.SalesInvoice, 0, len(docs))
	for _, doc := range docs {
		invoices = append(invoices, domain.SalesInvoiceFromDocument(doc.ID, doc.Data))
	}
	return invoices, nil
}
