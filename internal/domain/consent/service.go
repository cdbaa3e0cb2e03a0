package consent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/portal/internal/platform/apperr"
)

// Event names emitted to the Notifier on each consent state change.
const (
	EventRequested = "consent_requested"
	EventApproved  = "consent_approved"
	EventDenied    = "consent_denied"
	EventRevoked   = "consent_revoked"
)

// Notifier delivers a notification about a consent state change to the
// counterparty of the actor. Exactly one call per successful transition.
type Notifier interface {
	NotifyConsent(ctx context.Context, event string, recipientID string, req *ConsentRequest) error
}

// CreateInput is the requester's side of a new consent request.
type CreateInput struct {
	PatientID    string     `json:"patient_id"`
	Purpose      string     `json:"purpose"`
	DataTypes    []DataType `json:"data_types"`
	RangeStart   *time.Time `json:"range_start,omitempty"`
	RangeEnd     *time.Time `json:"range_end,omitempty"`
	DurationDays int        `json:"duration_days"`
	Message      *string    `json:"message,omitempty"`
}

// RespondInput is the patient's decision on a pending request.
type RespondInput struct {
	Approve          bool       `json:"approve"`
	GrantedDataTypes []DataType `json:"granted_data_types,omitempty"`
	Message          *string    `json:"message,omitempty"`
	Signature        *string    `json:"signature,omitempty"`
}

type Service struct {
	repo     Repository
	notifier Notifier
	logger   zerolog.Logger

	// now is injectable for deterministic expiry tests.
	now func() time.Time
}

func NewService(repo Repository, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With().Str("service", "consent").Logger(),
		now:      time.Now,
	}
}

// Create opens a new pending request from a requester toward a patient.
func (s *Service) Create(ctx context.Context, requesterID, requesterName string, in CreateInput) (*ConsentRequest, error) {
	if in.PatientID == "" {
		return nil, apperr.Validationf("patient_id is required")
	}
	if in.PatientID == requesterID {
		return nil, apperr.Validationf("cannot request consent from yourself")
	}
	if in.Purpose == "" {
		return nil, apperr.Validationf("purpose is required")
	}
	if len(in.DataTypes) == 0 {
		return nil, apperr.Validationf("at least one data type is required")
	}
	for _, dt := range in.DataTypes {
		if !ValidDataType(dt) {
			return nil, apperr.Validationf("unknown data type %q", dt)
		}
	}
	if in.DurationDays <= 0 {
		return nil, apperr.Validationf("duration_days must be positive")
	}
	if in.RangeStart != nil && in.RangeEnd != nil && in.RangeEnd.Before(*in.RangeStart) {
		return nil, apperr.Validationf("range_end precedes range_start")
	}

	req := &ConsentRequest{
		PatientID:          in.PatientID,
		RequesterID:        requesterID,
		RequesterName:      requesterName,
		Purpose:            in.Purpose,
		RequestedDataTypes: dedupe(in.DataTypes),
		RangeStart:         in.RangeStart,
		RangeEnd:           in.RangeEnd,
		DurationDays:       in.DurationDays,
		Status:             StatusPending,
		Message:            in.Message,
		RequestedAt:        s.now().UTC(),
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}

	s.notify(ctx, EventRequested, req.PatientID, req)
	return req, nil
}

// Get returns a request visible only to its two parties.
func (s *Service) Get(ctx context.Context, id uuid.UUID, userID string) (*ConsentRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.PatientID != userID && req.RequesterID != userID {
		// A third party learns nothing, not even existence.
		return nil, apperr.NotFoundf("consent request")
	}
	return req, nil
}

func (s *Service) ListForPatient(ctx context.Context, patientID string, limit, offset int) ([]*ConsentRequest, int, error) {
	reqs, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	s.project(reqs)
	return reqs, total, nil
}

func (s *Service) ListForRequester(ctx context.Context, requesterID string, limit, offset int) ([]*ConsentRequest, int, error) {
	reqs, total, err := s.repo.ListByRequester(ctx, requesterID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	s.project(reqs)
	return reqs, total, nil
}

// Respond applies the patient's decision to a pending request. The write
// is conditional on the request still being pending; a lost race surfaces
// as a concurrent-modification error, a request already out of pending as
// an invalid transition.
func (s *Service) Respond(ctx context.Context, id uuid.UUID, patientID string, in RespondInput) (*ConsentRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.PatientID != patientID {
		if req.RequesterID == patientID {
			return nil, fmt.Errorf("only the patient may respond: %w", apperr.ErrAccessDenied)
		}
		return nil, apperr.NotFoundf("consent request")
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("request is %s, not pending: %w", req.Status, apperr.ErrInvalidStateTransition)
	}

	now := s.now().UTC()
	var (
		status    Status
		granted   []DataType
		expiresAt *time.Time
		event     string
	)
	if in.Approve {
		granted = dedupe(in.GrantedDataTypes)
		if len(granted) == 0 {
			// Omitting the granted set approves everything asked for.
			granted = append([]DataType(nil), req.RequestedDataTypes...)
		}
		for _, dt := range granted {
			if !req.Requested(dt) {
				return nil, apperr.Validationf("data type %q was not requested", dt)
			}
		}
		exp := now.AddDate(0, 0, req.DurationDays)
		status, expiresAt, event = StatusApproved, &exp, EventApproved
	} else {
		status, event = StatusDenied, EventDenied
	}

	ok, err := s.repo.MarkResponded(ctx, id, status, granted, now, expiresAt, in.Message, in.Signature)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else won the race between our read and our write.
		return nil, fmt.Errorf("this request has already been responded to, refresh and try again: %w", apperr.ErrConcurrentModification)
	}

	req, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, event, req.RequesterID, req)
	return req, nil
}

// Revoke withdraws an active approval. Only approved-and-unexpired
// requests can be revoked.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID, patientID string) (*ConsentRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.PatientID != patientID {
		if req.RequesterID == patientID {
			return nil, fmt.Errorf("only the patient may revoke: %w", apperr.ErrAccessDenied)
		}
		return nil, apperr.NotFoundf("consent request")
	}

	now := s.now().UTC()
	if eff := req.EffectiveStatus(now); eff != StatusApproved {
		return nil, fmt.Errorf("cannot revoke a %s request: %w", eff, apperr.ErrInvalidStateTransition)
	}

	ok, err := s.repo.MarkRevoked(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("consent changed underneath you, refresh and try again: %w", apperr.ErrConcurrentModification)
	}

	req, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, EventRevoked, req.RequesterID, req)
	return req, nil
}

// project rewrites stored statuses with their time-aware reading so list
// responses never show an approved-but-lapsed grant as live.
func (s *Service) project(reqs []*ConsentRequest) {
	now := s.now()
	for _, r := range reqs {
		r.Status = r.EffectiveStatus(now)
	}
}

// notify delivers the state-change notification. Delivery failure is
// logged, never rolled back; the consent transition already happened.
func (s *Service) notify(ctx context.Context, event, recipientID string, req *ConsentRequest) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyConsent(ctx, event, recipientID, req); err != nil {
		s.logger.Error().Err(err).
			Str("event", event).
			Str("consent_id", req.ID.String()).
			Str("recipient_id", recipientID).
			Msg("consent notification failed")
	}
}

func dedupe(types []DataType) []DataType {
	if len(types) == 0 {
		return nil
	}
	seen := make(map[DataType]struct{}, len(types))
	out := make([]DataType, 0, len(types))
	for _, t := range types {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
