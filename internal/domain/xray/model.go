package xray

import (
	"time"

	"github.com/google/uuid"

	"github.com/pyneumonia/pyneumonia/internal/platform/imaging"
)

const (
	QualityExcellent = "EXCELLENT"
	QualityGood      = "GOOD"
	QualityFair      = "FAIR"
	QualityPoor      = "POOR"

	DefaultViewPosition = "PA"
)

var validQualities = map[string]bool{
	QualityExcellent: true, QualityGood: true, QualityFair: true, QualityPoor: true,
}

// Image maps to the xray_images table. The file itself lives in the blob
// store under ObjectKey.
type Image struct {
	ID           uuid.UUID              `db:"id" json:"id"`
	OrderID      uuid.UUID              `db:"order_id" json:"order_id"`
	PatientID    uuid.UUID              `db:"patient_id" json:"patient_id"`
	ObjectKey    string                 `db:"object_key" json:"-"`
	FileName     string                 `db:"file_name" json:"file_name"`
	ContentType  string                 `db:"content_type" json:"content_type"`
	SizeBytes    int64                  `db:"size_bytes" json:"size_bytes"`
	SHA256       string                 `db:"sha256" json:"sha256,omitempty"`
	Format       string                 `db:"format" json:"format"`
	Width        int                    `db:"width" json:"width,omitempty"`
	Height       int                    `db:"height" json:"height,omitempty"`
	DICOM        *imaging.DICOMMetadata `db:"dicom" json:"dicom,omitempty"`
	Description  *string                `db:"description" json:"description,omitempty"`
	Quality      string                 `db:"quality" json:"quality"`
	ViewPosition string                 `db:"view_position" json:"view_position"`
	IsAnalyzed   bool                   `db:"is_analyzed" json:"is_analyzed"`
	UploadedBy   *uuid.UUID             `db:"uploaded_by" json:"uploaded_by,omitempty"`
	UploadedAt   time.Time              `db:"uploaded_at" json:"uploaded_at"`
	UpdatedAt    time.Time              `db:"updated_at" json:"updated_at"`
}

// Upload is a validated-on-receipt file plus the form fields sent with it.
type Upload struct {
	OrderID      uuid.UUID
	FileName     string
	ContentType  string
	Data         []byte
	Description  *string
	Quality      string
	ViewPosition string
}

// Link is a time-limited download location for an image.
type Link struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
