package pharmacy

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type MedicineRepository interface {
	Create(ctx context.Context, m *Medicine) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Medicine, error)
	// Update writes descriptive fields only. Stock moves through SaveStock.
	Update(ctx context.Context, m *Medicine) error
	SaveStock(ctx context.Context, m *Medicine) error
	List(ctx context.Context, f MedicineFilter, limit, offset int) ([]*Medicine, int, error)
	ListActive(ctx context.Context) ([]*Medicine, error)
	// ListExpiring returns active medicines holding an active batch that
	// expires on or before cutoff.
	ListExpiring(ctx context.Context, cutoff time.Time) ([]*Medicine, error)
	ListLowStock(ctx context.Context) ([]*Medicine, error)
}

type MovementRepository interface {
	Create(ctx context.Context, mv *Movement) error
	List(ctx context.Context, f MovementFilter, limit, offset int) ([]*Movement, int, error)
}

type SaleRepository interface {
	// Create stores s. An unknown invoice id yields ErrInvoiceNotFound.
	Create(ctx context.Context, s *Sale) error
	List(ctx context.Context, f SaleFilter, limit, offset int) ([]*Sale, int, error)
}
