package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	domain "github.com/garage-pos/settlement/internal/domain"
	pmongo "github.com/garage-pos/settlement/internal/platform/mongo"
)

// EmployeeRepository implements repositories.EmployeeRepository.
type EmployeeRepository struct {
	coll *mongo.Collection
}

func (r *EmployeeRepository) FindByID(ctx context.Context, employeeID string) (domain.Employee, error) {
	var raw bson.M
	err := r.coll.FindOne(ctx, bson.M{domain.FieldID: pmongo.DocumentID(employeeID)}).Decode(&raw)
	if err != nil {
		return domain.Employee{}, pmongo.WrapError("employees.get", err)
	}
	return domain.EmployeeFromDocument(employeeID, pmongo.NormalizeDocument(raw)), nil
}
