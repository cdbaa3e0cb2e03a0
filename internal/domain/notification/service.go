package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/portal/internal/platform/apperr"
	"github.com/carebridge/portal/internal/platform/websocket"
)

type Service struct {
	repo      Repository
	publisher websocket.EventPublisher
	logger    zerolog.Logger
}

func NewService(repo Repository, publisher websocket.EventPublisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With().Str("service", "notification").Logger(),
	}
}

// Create stores a notification and then pushes an insert event to the
// recipient's live connections. The store is the source of truth; a
// failed push is logged and recovered by the client's next resync.
func (s *Service) Create(ctx context.Context, userID string, typ Type, title, body string, metadata map[string]string) (*Notification, error) {
	if userID == "" {
		return nil, apperr.Validationf("user_id is required")
	}
	if !ValidType(typ) {
		return nil, apperr.Validationf("unknown notification type %q", typ)
	}
	if title == "" {
		return nil, apperr.Validationf("title is required")
	}

	n := &Notification{
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Body:      body,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}

	s.publish(ctx, websocket.ActionInsert, n)
	return n, nil
}

// List returns the user's notifications newest first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.UnreadCount(ctx, userID)
}

// MarkRead flips a notification to read. Marking an already-read
// notification is a no-op that succeeds without emitting another event.
// A notification belonging to someone else reads as absent.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID, userID string) (*Notification, error) {
	n, err := s.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if n.Read {
		return n, nil
	}

	changed, err := s.repo.MarkRead(ctx, id)
	if err != nil {
		return nil, err
	}
	n.Read = true
	if changed {
		s.publish(ctx, websocket.ActionUpdate, n)
	}
	return n, nil
}

// MarkAllRead flips every unread notification of the user and emits one
// update event per flipped row.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	ids, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		n, err := s.repo.GetByID(ctx, id)
		if err != nil {
			s.logger.Error().Err(err).Str("notification_id", id.String()).
				Msg("re-read after mark-all-read failed")
			continue
		}
		s.publish(ctx, websocket.ActionUpdate, n)
	}
	return len(ids), nil
}

// Delete removes a notification and pushes a delete event so live clients
// drop it from their view.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	n, err := s.owned(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, websocket.ActionDelete, n)
	return nil
}

// owned fetches the notification and hides it from non-owners.
func (s *Service) owned(ctx context.Context, id uuid.UUID, userID string) (*Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, apperr.NotFoundf("notification")
	}
	return n, nil
}

func (s *Service) publish(ctx context.Context, action string, n *Notification) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(n)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal notification event")
		return
	}
	event := websocket.Event{
		Action:     action,
		Resource:   "notification",
		ResourceID: n.ID.String(),
		Topic:      websocket.UserTopic(n.UserID),
		Timestamp:  time.Now().UTC(),
		Data:       data,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error().Err(err).
			Str("action", action).
			Str("notification_id", n.ID.String()).
			Msg("publish notification event failed")
	}
}
