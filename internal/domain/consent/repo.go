package consent

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the persistence interface for consent requests.
//
// MarkResponded and MarkRevoked are conditional writes: they only take
// effect when the stored status still matches the expected prior state,
// and report false when another writer got there first. The service turns
// a false result into a concurrent-modification or state-transition error
// after re-fetching.
type Repository interface {
	Create(ctx context.Context, req *ConsentRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*ConsentRequest, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*ConsentRequest, int, error)
	ListByRequester(ctx context.Context, requesterID string, limit, offset int) ([]*ConsentRequest, int, error)
	ListByPair(ctx context.Context, patientID, requesterID string) ([]*ConsentRequest, error)

	// MarkResponded records the first transition out of pending, including
	// the patient's opaque signature when one was supplied. Guarded by
	// status = 'pending'.
	MarkResponded(ctx context.Context, id uuid.UUID, status Status, granted []DataType, respondedAt time.Time, expiresAt *time.Time, message, signature *string) (bool, error)

	// MarkRevoked withdraws an active approval. Guarded by
	// status = 'approved' AND expires_at >= now, matching the projection
	// that still reads approved at the expiry instant.
	MarkRevoked(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}
