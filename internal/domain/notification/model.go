package notification

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies what happened. Clients use it to pick icons and deep
// links; the server treats it as opaque beyond validation.
type Type string

const (
	TypeConsentRequested Type = "consent_requested"
	TypeConsentApproved  Type = "consent_approved"
	TypeConsentDenied    Type = "consent_denied"
	TypeConsentRevoked   Type = "consent_revoked"

	TypeRecordAccessGranted Type = "record_access_granted"
	TypeRecordAccessDenied  Type = "record_access_denied"
	TypeRecordUploaded      Type = "record_uploaded"

	TypePrescriptionCreated Type = "prescription_created"
	TypePrescriptionUpdated Type = "prescription_updated"
	TypeConsultationBooked  Type = "consultation_booked"
)

var knownTypes = map[Type]struct{}{
	TypeConsentRequested:    {},
	TypeConsentApproved:     {},
	TypeConsentDenied:       {},
	TypeConsentRevoked:      {},
	TypeRecordAccessGranted: {},
	TypeRecordAccessDenied:  {},
	TypeRecordUploaded:      {},
	TypePrescriptionCreated: {},
	TypePrescriptionUpdated: {},
	TypeConsultationBooked:  {},
}

// ValidType reports whether t is a recognized notification type.
func ValidType(t Type) bool {
	_, ok := knownTypes[t]
	return ok
}

// Notification maps to the notification table. Store-and-forward: the row
// is written first, then the change event is pushed to any live
// connection. A user who was offline sees it on their next list call.
type Notification struct {
	ID     uuid.UUID `db:"id" json:"id"`
	UserID string    `db:"user_id" json:"user_id"`
	Type   Type      `db:"type" json:"type"`
	Title  string    `db:"title" json:"title"`
	Body   string    `db:"body" json:"body"`

	// Metadata carries deep-link context, e.g. the consent or record id
	// the notification is about.
	Metadata map[string]string `db:"metadata" json:"metadata,omitempty"`

	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
