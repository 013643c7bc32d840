package diagnosis

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateImage is returned by Create when the image already has a
	// diagnosis.
	ErrDuplicateImage = errors.New("image already has a diagnosis")
	// ErrVersionMismatch is returned by SaveReview when the stored version
	// differs from the expected one.
	ErrVersionMismatch = errors.New("diagnosis version mismatch")
)

type Repository interface {
	Create(ctx context.Context, d *Diagnosis) error
	GetByID(ctx context.Context, id uuid.UUID) (*Diagnosis, error)
	GetByXRay(ctx context.Context, xrayID uuid.UUID) (*Diagnosis, error)
	// SaveResult writes the analysis fields and status.
	SaveResult(ctx context.Context, d *Diagnosis) error
	// SaveReview writes the review fields and bumps the version. A positive
	// expectVersion makes the write conditional on the stored version.
	SaveReview(ctx context.Context, d *Diagnosis, expectVersion int) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Diagnosis, int, error)
	// PendingReports lists reviewed diagnoses of completed orders requested
	// by requestedBy that have no report yet.
	PendingReports(ctx context.Context, requestedBy uuid.UUID, limit, offset int) ([]*Diagnosis, int, error)
}
