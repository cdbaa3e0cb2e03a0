package records

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/portal/internal/domain/consent"
)

// HealthRecord maps to the health_record table. Metadata only; the
// document itself lives in external blob storage behind FileURL.
type HealthRecord struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID string    `db:"patient_id" json:"patient_id"`

	// UploaderID is the user who created the record: the patient, or a
	// doctor holding consent for the category.
	UploaderID string           `db:"uploader_id" json:"uploader_id"`
	Category   consent.DataType `db:"category" json:"category"`
	Title      string           `db:"title" json:"title"`
	Summary    *string          `db:"summary" json:"summary,omitempty"`

	// RecordDate is the clinical date of the record, the date consent
	// windows are matched against. Distinct from CreatedAt.
	RecordDate time.Time `db:"record_date" json:"record_date"`
	FileURL    *string   `db:"file_url" json:"file_url,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
