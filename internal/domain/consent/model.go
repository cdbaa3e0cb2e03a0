package consent

import (
	"time"

	"github.com/google/uuid"
)

// Status is the stored lifecycle state of a consent request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusRevoked  Status = "revoked"
	// StatusExpired is derived at read time; it is never written by an
	// actor, only projected by EffectiveStatus once expires_at passes.
	StatusExpired Status = "expired"
)

// DataType is a category of health data a consent can be scoped to.
type DataType string

const (
	DataTypeLabResults        DataType = "lab_results"
	DataTypeImaging           DataType = "imaging"
	DataTypePrescriptions     DataType = "prescriptions"
	DataTypeConsultationNotes DataType = "consultation_notes"
	DataTypeVaccinations      DataType = "vaccinations"
	DataTypeOther             DataType = "other"
)

// AllDataTypes lists every valid data category.
var AllDataTypes = []DataType{
	DataTypeLabResults,
	DataTypeImaging,
	DataTypePrescriptions,
	DataTypeConsultationNotes,
	DataTypeVaccinations,
	DataTypeOther,
}

// ValidDataType reports whether dt is one of the known categories.
func ValidDataType(dt DataType) bool {
	for _, known := range AllDataTypes {
		if dt == known {
			return true
		}
	}
	return false
}

// ConsentRequest maps to the consent_request table. A patient's grant,
// denial, or revocation of a requester's access to categories of the
// patient's health data for a bounded time window.
type ConsentRequest struct {
	ID            uuid.UUID `db:"id" json:"id"`
	PatientID     string    `db:"patient_id" json:"patient_id"`
	RequesterID   string    `db:"requester_id" json:"requester_id"`
	RequesterName string    `db:"requester_name" json:"requester_name"`
	Purpose       string    `db:"purpose" json:"purpose"`

	// RequestedDataTypes is what the requester asked for; never empty.
	RequestedDataTypes []DataType `db:"requested_data_types" json:"requested_data_types"`
	// GrantedDataTypes is the subset the patient actually approved. Nil
	// until approval; may be narrower than the request.
	GrantedDataTypes []DataType `db:"granted_data_types" json:"granted_data_types,omitempty"`

	// Optional window restricting which records within a category are
	// covered, by record date.
	RangeStart *time.Time `db:"range_start" json:"range_start,omitempty"`
	RangeEnd   *time.Time `db:"range_end" json:"range_end,omitempty"`

	// DurationDays is applied at approval time to compute ExpiresAt.
	DurationDays int     `db:"duration_days" json:"duration_days"`
	Status       Status  `db:"status" json:"status"`
	Message      *string `db:"message" json:"message,omitempty"`
	// Signature is an opaque audit attribute; nothing verifies it.
	Signature *string `db:"signature" json:"signature,omitempty"`

	RequestedAt time.Time  `db:"requested_at" json:"requested_at"`
	RespondedAt *time.Time `db:"responded_at" json:"responded_at,omitempty"`
	// ExpiresAt is set on approval and kept afterwards, even through a
	// later revocation, to preserve when the grant would have lapsed.
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// EffectiveStatus is the time-aware projection of Status. An approved
// record past its expiry reads as expired even though the stored value may
// still say approved. Every authorization decision goes through this,
// never the raw field.
func (r *ConsentRequest) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusApproved && r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return StatusExpired
	}
	return r.Status
}

// Granted reports whether dt is in the granted set.
func (r *ConsentRequest) Granted(dt DataType) bool {
	for _, g := range r.GrantedDataTypes {
		if g == dt {
			return true
		}
	}
	return false
}

// Requested reports whether dt is in the requested set.
func (r *ConsentRequest) Requested(dt DataType) bool {
	for _, g := range r.RequestedDataTypes {
		if g == dt {
			return true
		}
	}
	return false
}

// CoversDate reports whether a record dated d falls inside the consent's
// optional date window. A consent with no window covers every date.
func (r *ConsentRequest) CoversDate(d time.Time) bool {
	if r.RangeStart != nil && d.Before(*r.RangeStart) {
		return false
	}
	if r.RangeEnd != nil && d.After(*r.RangeEnd) {
		return false
	}
	return true
}
