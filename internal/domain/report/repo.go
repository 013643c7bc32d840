package report

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotReceivable is returned by SaveReceipt when the report is no longer
// an unreceived draft.
var ErrNotReceivable = errors.New("report is not an unreceived draft")

type Repository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	Update(ctx context.Context, r *Report) error
	// SaveReceipt stores Status, ReceivedBy and ReceivedAt only if the
	// stored report is still an unreceived draft.
	SaveReceipt(ctx context.Context, r *Report) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Report, int, error)
}
