package records

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/portal/internal/domain/consent"
	"github.com/carebridge/portal/internal/platform/apperr"
	"github.com/carebridge/portal/internal/platform/auth"
)

// Event names emitted to the Notifier when records change or a read is
// refused.
const (
	EventUploaded            = "record_uploaded"
	EventPrescriptionCreated = "prescription_created"
	EventPrescriptionUpdated = "prescription_updated"
	EventAccessDenied        = "record_access_denied"
)

// Notifier delivers record notifications to the patient.
type Notifier interface {
	NotifyRecord(ctx context.Context, event string, recipientID string, rec *HealthRecord) error
}

type CreateInput struct {
	PatientID  string           `json:"patient_id"`
	Category   consent.DataType `json:"category"`
	Title      string           `json:"title"`
	Summary    *string          `json:"summary,omitempty"`
	RecordDate time.Time        `json:"record_date"`
	FileURL    *string          `json:"file_url,omitempty"`
}

type UpdateInput struct {
	Title      string     `json:"title"`
	Summary    *string    `json:"summary,omitempty"`
	RecordDate *time.Time `json:"record_date,omitempty"`
	FileURL    *string    `json:"file_url,omitempty"`
}

type Service struct {
	repo     Repository
	enforcer *consent.Enforcer
	notifier Notifier
	logger   zerolog.Logger

	now func() time.Time
}

func NewService(repo Repository, enforcer *consent.Enforcer, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		enforcer: enforcer,
		notifier: notifier,
		logger:   logger.With().Str("service", "records").Logger(),
		now:      time.Now,
	}
}

// Create stores record metadata. Patients upload into their own chart; a
// doctor writes into a patient's chart only while holding consent for the
// record's category.
func (s *Service) Create(ctx context.Context, actorID, role string, in CreateInput) (*HealthRecord, error) {
	if in.Title == "" {
		return nil, apperr.Validationf("title is required")
	}
	if !consent.ValidDataType(in.Category) {
		return nil, apperr.Validationf("unknown category %q", in.Category)
	}
	if in.RecordDate.IsZero() {
		return nil, apperr.Validationf("record_date is required")
	}

	patientID := in.PatientID
	if role == auth.RolePatient {
		patientID = actorID
	} else {
		if patientID == "" {
			return nil, apperr.Validationf("patient_id is required")
		}
		if err := s.enforcer.CanAccess(ctx, actorID, patientID, in.Category, s.now()); err != nil {
			return nil, err
		}
	}

	rec := &HealthRecord{
		PatientID:  patientID,
		UploaderID: actorID,
		Category:   in.Category,
		Title:      in.Title,
		Summary:    in.Summary,
		RecordDate: in.RecordDate,
		FileURL:    in.FileURL,
		CreatedAt:  s.now().UTC(),
	}
	rec.UpdatedAt = rec.CreatedAt
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	// The patient hears about records added by someone else.
	if actorID != patientID {
		event := EventUploaded
		if rec.Category == consent.DataTypePrescriptions {
			event = EventPrescriptionCreated
		}
		s.notify(ctx, event, patientID, rec)
	}
	return rec, nil
}

// Get fetches one record. The patient always passes; a doctor passes only
// with live consent for the record's category whose window covers the
// record date.
func (s *Service) Get(ctx context.Context, id uuid.UUID, requesterID string) (*HealthRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.PatientID == requesterID {
		return rec, nil
	}

	now := s.now()
	if err := s.enforcer.CanAccess(ctx, requesterID, rec.PatientID, rec.Category, now); err != nil {
		s.auditDenied(ctx, requesterID, rec, err)
		return nil, err
	}
	grants, err := s.enforcer.ActiveGrants(ctx, requesterID, rec.PatientID, now)
	if err != nil {
		return nil, err
	}
	if !consent.CoveringWindow(grants, rec.Category, rec.RecordDate) {
		err := fmt.Errorf("record date falls outside the consented window: %w", apperr.ErrAccessDenied)
		s.auditDenied(ctx, requesterID, rec, err)
		return nil, err
	}
	return rec, nil
}

// ListOwn returns the caller's own records.
func (s *Service) ListOwn(ctx context.Context, patientID string, f Filter, limit, offset int) ([]*HealthRecord, int, error) {
	if f.Category != "" && !consent.ValidDataType(f.Category) {
		return nil, 0, apperr.Validationf("unknown category %q", f.Category)
	}
	return s.repo.ListByPatient(ctx, patientID, f, limit, offset)
}

// ListForPatient returns a patient's records to a consented doctor. With
// no live grant at all the caller gets an explicit denial, never a quiet
// empty page. With grants, the page is filtered down to granted
// categories and covered record dates.
func (s *Service) ListForPatient(ctx context.Context, requesterID, patientID string, f Filter, limit, offset int) ([]*HealthRecord, int, error) {
	if requesterID == patientID {
		return s.ListOwn(ctx, patientID, f, limit, offset)
	}
	if f.Category != "" && !consent.ValidDataType(f.Category) {
		return nil, 0, apperr.Validationf("unknown category %q", f.Category)
	}

	now := s.now()
	grants, err := s.enforcer.ActiveGrants(ctx, requesterID, patientID, now)
	if err != nil {
		return nil, 0, err
	}
	if len(grants) == 0 {
		return nil, 0, fmt.Errorf("no active consent for this patient: %w", apperr.ErrAccessDenied)
	}
	if f.Category != "" {
		if err := s.enforcer.CanAccess(ctx, requesterID, patientID, f.Category, now); err != nil {
			return nil, 0, err
		}
	}

	// The covering-window predicate varies per grant, so it cannot ride
	// in the SQL page. Filter the full match set, then page the result,
	// keeping totals and page boundaries accurate.
	recs, _, err := s.repo.ListByPatient(ctx, patientID, f, 0, 0)
	if err != nil {
		return nil, 0, err
	}
	var visible []*HealthRecord
	for _, rec := range recs {
		if consent.CoveringWindow(grants, rec.Category, rec.RecordDate) {
			visible = append(visible, rec)
		}
	}

	total := len(visible)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return visible[offset:end], total, nil
}

// Update edits a record's metadata. Only the uploader may edit.
func (s *Service) Update(ctx context.Context, id uuid.UUID, actorID string, in UpdateInput) (*HealthRecord, error) {
	rec, err := s.visibleToActor(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	if rec.UploaderID != actorID {
		return nil, fmt.Errorf("only the uploader may edit a record: %w", apperr.ErrAccessDenied)
	}
	if in.Title == "" {
		return nil, apperr.Validationf("title is required")
	}

	rec.Title = in.Title
	rec.Summary = in.Summary
	if in.RecordDate != nil {
		rec.RecordDate = *in.RecordDate
	}
	if in.FileURL != nil {
		rec.FileURL = in.FileURL
	}
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}

	if rec.Category == consent.DataTypePrescriptions && actorID != rec.PatientID {
		s.notify(ctx, EventPrescriptionUpdated, rec.PatientID, rec)
	}
	return rec, nil
}

// Delete removes a record. Only the patient owns deletion.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actorID string) error {
	rec, err := s.visibleToActor(ctx, id, actorID)
	if err != nil {
		return err
	}
	if rec.PatientID != actorID {
		return fmt.Errorf("only the patient may delete a record: %w", apperr.ErrAccessDenied)
	}
	return s.repo.Delete(ctx, id)
}

// visibleToActor hides records the actor is not a party to.
func (s *Service) visibleToActor(ctx context.Context, id uuid.UUID, actorID string) (*HealthRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.PatientID != actorID && rec.UploaderID != actorID {
		return nil, apperr.NotFoundf("health record")
	}
	return rec, nil
}

// auditDenied tells the patient someone tried and failed to open their
// record.
func (s *Service) auditDenied(ctx context.Context, requesterID string, rec *HealthRecord, cause error) {
	s.logger.Warn().
		Str("requester_id", requesterID).
		Str("record_id", rec.ID.String()).
		Err(cause).
		Msg("record access denied")
	s.notify(ctx, EventAccessDenied, rec.PatientID, rec)
}

func (s *Service) notify(ctx context.Context, event, recipientID string, rec *HealthRecord) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyRecord(ctx, event, recipientID, rec); err != nil {
		s.logger.Error().Err(err).
			Str("event", event).
			Str("record_id", rec.ID.String()).
			Msg("record notification failed")
	}
}
