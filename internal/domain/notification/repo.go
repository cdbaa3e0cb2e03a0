package notification

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// ListByUser returns the user's notifications newest first.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Notification, int, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	// MarkRead flips the read flag. Reports false when the row was
	// already read, so the caller can skip the redundant change event.
	MarkRead(ctx context.Context, id uuid.UUID) (bool, error)
	// MarkAllRead returns the ids it actually flipped.
	MarkAllRead(ctx context.Context, userID string) ([]uuid.UUID, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
