package firestore

import (
	"context"

	"cloud.google.com/go/firestore"

	domain "github.com/garage-pos/settlement/internal/domain"
	pfirestore "github.com/garage-pos/settlement/internal/platform/firestore"
)

// TechnicianCommissionRepository implements repositories.TechnicianCommissionRepository.
type TechnicianCommissionRepository struct {
	docs *pfirestore.Collection
}

func (r *TechnicianCommissionRepository) Insert(ctx context.Context, commission domain.TechnicianCommission) error {
	return r.docs.Create(ctx, commission.ID, commission.Document())
}

func (r *TechnicianCommissionRepository) Delete(ctx context.Context, commissionID string) error {
	return r.docs.Delete(ctx, commissionID)
}

func (r *TechnicianCommissionRepository) ListByTechnician(ctx context.Context, technicianID string, limit int) ([]domain.TechnicianCommission, error) {
	docs, err := r.docs.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where(domain.FieldTechnicianID, "==", technicianID).OrderBy(domain.FieldCreatedAt, firestore.Desc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.TechnicianCommission, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.TechnicianCommissionFromDocument(doc.ID, doc.Data))
	}
	return out, nil
}
