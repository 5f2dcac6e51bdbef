package billing

import (
	"context"

	"github.com/google/uuid"
)

type InvoiceRepository interface {
	// Create stores the invoice and its items.
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	MarkPaid(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// List returns invoices newest first.
	List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error)
}
