package xray

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, img *Image) error
	GetByID(ctx context.Context, id uuid.UUID) (*Image, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*Image, error)
	// Replace overwrites the file fields of an existing record.
	Replace(ctx context.Context, img *Image) error
	SetAnalyzed(ctx context.Context, id uuid.UUID, analyzed bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Image, int, error)
}
