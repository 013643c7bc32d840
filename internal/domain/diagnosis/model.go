package diagnosis

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending   = "PENDING"
	StatusAnalyzing = "ANALYZING"
	StatusCompleted = "COMPLETED"
	StatusError     = "ERROR"
)

const (
	ClassNormal             = "NORMAL"
	ClassPneumoniaBacteria  = "PNEUMONIA_BACTERIA" // legacy label of older model versions
	ClassPneumoniaBacterial = "PNEUMONIA_BACTERIAL"
	ClassPneumoniaViral     = "PNEUMONIA_VIRAL"
)

const (
	SeverityMild     = "MILD"
	SeverityModerate = "MODERATE"
	SeveritySevere   = "SEVERE"
)

var validSeverities = map[string]bool{
	SeverityMild: true, SeverityModerate: true, SeveritySevere: true,
}

// Diagnosis is the classification of one X-ray image plus its review trail.
// OrderID and PatientID are read from the image and never written here.
type Diagnosis struct {
	ID        uuid.UUID `db:"id" json:"id"`
	XRayID    uuid.UUID `db:"xray_id" json:"xray_id"`
	OrderID   uuid.UUID `db:"-" json:"order_id"`
	PatientID uuid.UUID `db:"-" json:"patient_id"`

	PredictedClass    string          `db:"predicted_class" json:"predicted_class"`
	ClassID           int             `db:"class_id" json:"class_id"`
	Confidence        float64         `db:"confidence" json:"confidence"`
	RawResponse       json.RawMessage `db:"raw_response" json:"raw_response,omitempty"`
	ProcessingTime    *float64        `db:"processing_time" json:"processing_time,omitempty"`
	Status            string          `db:"status" json:"status"`
	ErrorMessage      *string         `db:"error_message" json:"error_message,omitempty"`
	SuggestedSeverity *string         `db:"suggested_severity" json:"suggested_severity,omitempty"`
	AutoNotes         *string         `db:"auto_notes" json:"auto_notes,omitempty"`

	IsReviewed bool       `db:"is_reviewed" json:"is_reviewed"`
	ReviewedBy *uuid.UUID `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`

	RadiologistID         *uuid.UUID `db:"radiologist_id" json:"radiologist_id,omitempty"`
	RadiologistNotes      *string    `db:"radiologist_notes" json:"radiologist_notes,omitempty"`
	RadiologistReviewedAt *time.Time `db:"radiologist_reviewed_at" json:"radiologist_reviewed_at,omitempty"`
	Severity              *string    `db:"severity" json:"severity,omitempty"`

	PhysicianID    *uuid.UUID `db:"physician_id" json:"physician_id,omitempty"`
	PhysicianNotes *string    `db:"physician_notes" json:"physician_notes,omitempty"`
	ApprovedAt     *time.Time `db:"approved_at" json:"approved_at,omitempty"`

	Version   int        `db:"version" json:"version"`
	CreatedBy *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`

	IsPneumonia       bool   `db:"-" json:"is_pneumonia"`
	RequiresAttention bool   `db:"-" json:"requires_attention"`
	IsFullyReviewed   bool   `db:"-" json:"is_fully_reviewed"`
	ConfidenceLevel   string `db:"-" json:"confidence_level,omitempty"`
}

// decorate fills the derived fields.
func (d *Diagnosis) decorate() *Diagnosis {
	d.IsPneumonia = IsPneumonia(d.PredictedClass)
	d.RequiresAttention = d.IsPneumonia && d.Confidence >= AttentionThreshold
	d.IsFullyReviewed = d.RadiologistID != nil && d.PhysicianID != nil
	d.ConfidenceLevel = ""
	if d.Status == StatusCompleted {
		d.ConfidenceLevel = ConfidenceLevel(d.Confidence)
	}
	return d
}

func (d *Diagnosis) IsCompleted() bool { return d.Status == StatusCompleted }

func (d *Diagnosis) HasRadiologistReview() bool { return d.RadiologistID != nil }
