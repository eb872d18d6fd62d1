package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	domain "github.com/garage-pos/settlement/internal/domain"
	pmongo "github.com/garage-pos/settlement/internal/platform/mongo"
)

// TechnicianCommissionRepository implements repositories.TechnicianCommissionRepository.
type TechnicianCommissionRepository struct {
	coll *mongo.Collection
}

func (r *TechnicianCommissionRepository) Insert(ctx context.Context, commission domain.TechnicianCommission) error {
	_, err := r.coll.InsertOne(ctx, withID(commission.ID, commission.Document()))
	return pmongo.WrapError("technician_commissions.insert", err)
}

func (r *TechnicianCommissionRepository) Delete(ctx context.Context, commissionID string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{domain.FieldID: pmongo.DocumentID(commissionID)})
	if err != nil {
		return pmongo.WrapError("technician_commissions.delete", err)
	}
	if res.DeletedCount == 0 {
		return pmongo.NotFound("technician_commissions.delete", commissionID)
	}
	return nil
}

func (r *TechnicianCommissionRepository) ListByTechnician(ctx context.Context, technicianID string, limit int) ([]domain.TechnicianCommission, error) {
	query := bson.M{domain.FieldTechnicianID: bson.M{"$in": pmongo.IDCandidates(technicianID)}}
	cursor, err := r.coll.Find(ctx, query, findOptions(domain.FieldCreatedAt, limit))
	if err != nil {
		return nil, pmongo.WrapError("technician_commissions.list", err)
	}
	docs, err := decodeAll(ctx, cursor, "technician_commissions.list")
	if err != nil {
		return nil, err
	}
	out := make([]domain.TechnicianCommission, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.TechnicianCommissionFromDocument(domain.StringValue(doc[domain.FieldID]), doc))
	}
	return out, nil
}
