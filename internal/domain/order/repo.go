package order

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	Update(ctx context.Context, o *Order) error
	// SaveStatus persists Status, ScheduledDate and CompletedDate.
	SaveStatus(ctx context.Context, o *Order) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Order, int, error)
}

// PatientChecker confirms a patient exists and is active.
type PatientChecker interface {
	PatientActive(ctx context.Context, id uuid.UUID) (bool, error)
}
