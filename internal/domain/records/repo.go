package records

import (
	"context"

	"github.com/google/uuid"

	"github.com/carebridge/portal/internal/domain/consent"
)

// Filter narrows a record listing. Zero values mean no constraint.
type Filter struct {
	Category consent.DataType
}

type Repository interface {
	Create(ctx context.Context, rec *HealthRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*HealthRecord, error)
	// ListByPatient returns the patient's records newest record date
	// first. A limit <= 0 returns every match so callers that filter
	// rows after the query can page the filtered set themselves.
	ListByPatient(ctx context.Context, patientID string, f Filter, limit, offset int) ([]*HealthRecord, int, error)
	Update(ctx context.Context, rec *HealthRecord) error
	Delete(ctx context.Context, id uuid.UUID) error
}
