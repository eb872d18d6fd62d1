package firestore

import (
	"context"

	domain "github.com/garage-pos/settlement/internal/domain"
	pfirestore "github.com/garage-pos/settlement/internal/platform/firestore"
)

// EmployeeRepository implements repositories.EmployeeRepository.
type EmployeeRepository struct {
	docs *pfirestore.Collection
}

// FindByID reads the profile outside any transaction on ctx; the settlement transaction has
// already written by the time the commission terms are looked up.
func (r *EmployeeRepository) FindByID(ctx context.Context, employeeID string) (domain.Employee, error) {
	ref, err := r.docs.DocumentRef(ctx, employeeID)
	if err != nil {
		return domain.Employee{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return domain.Employee{}, pfirestore.WrapError(r.docs.Name()+".get", err)
	}
	return domain.EmployeeFromDocument(snap.Ref.ID, snap.Data()), nil
}
