package records

import (
	"context"

	"github.com/google/uuid"
)

type RecordRepository interface {
	// GetForUpdate locks the record row inside the caller's transaction.
	GetForUpdate(ctx context.Context, patientID uuid.UUID) (*Record, error)
	Get(ctx context.Context, patientID uuid.UUID) (*Record, error)
	// Save inserts the record or replaces its demographic details.
	Save(ctx context.Context, r *Record) error
	AddVisit(ctx context.Context, v *Visit) error
	// Visits returns the patient's visits newest first.
	Visits(ctx context.Context, patientID uuid.UUID) ([]*Visit, error)
}
