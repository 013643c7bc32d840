package report

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusDraft   = "DRAFT"
	StatusFinal   = "FINAL"
	StatusRevised = "REVISED"
)

var validStatuses = map[string]bool{
	StatusDraft: true, StatusFinal: true, StatusRevised: true,
}

const MaxTitleLength = 200

// Report is the physician's written report on a diagnosis. OrderID and
// PatientID are read through the diagnosis and never written here.
type Report struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	DiagnosisID     uuid.UUID  `db:"diagnosis_id" json:"diagnosis_id"`
	XRayID          uuid.UUID  `db:"-" json:"xray_id"`
	OrderID         uuid.UUID  `db:"-" json:"order_id"`
	PatientID       uuid.UUID  `db:"-" json:"patient_id"`
	Title           string     `db:"title" json:"title"`
	Findings        string     `db:"findings" json:"findings"`
	Impression      string     `db:"impression" json:"impression"`
	Recommendations string     `db:"recommendations" json:"recommendations"`
	Status          string     `db:"status" json:"status"`
	CreatedBy       *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	ReceivedBy      *uuid.UUID `db:"received_by" json:"received_by,omitempty"`
	ReceivedAt      *time.Time `db:"received_at" json:"received_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

func (r *Report) IsDraft() bool    { return r.Status == StatusDraft }
func (r *Report) IsReceived() bool { return r.ReceivedBy != nil }
