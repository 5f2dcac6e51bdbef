package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AvailabilityRepository interface {
	Get(ctx context.Context, doctorID uuid.UUID) (*Availability, error)
	Upsert(ctx context.Context, a *Availability) error
}

type AppointmentRepository interface {
	// Create inserts a. An Accepted row that collides with another
	// Accepted row for the same doctor and instant returns ErrSlotTaken
	// and leaves the transaction usable.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Taken reports whether an Accepted or Pending appointment already
	// holds the exact instant.
	Taken(ctx context.Context, doctorID uuid.UUID, at time.Time) (bool, error)
	// Occupied returns Accepted and Pending instants in [from, to).
	Occupied(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error)
	// OldestPending locks and returns the first queued appointment for
	// the slot, or nil when the queue is empty.
	OldestPending(ctx context.Context, doctorID uuid.UUID, at time.Time) (*Appointment, error)
	UpdateStatus(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
	// ListForPatients returns every appointment booked by the given
	// patients, newest first.
	ListForPatients(ctx context.Context, patientIDs []uuid.UUID) ([]*Appointment, error)
}
