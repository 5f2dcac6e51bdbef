// Package events implements a transactional outbox. Domain services record
// events in the same transaction as the state change; Relay publishes them
// to Kafka afterwards.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cliniq/hms/internal/platform/db"
)

const (
	AppointmentBooked   = "appointment.booked"
	AppointmentQueued   = "appointment.queued"
	AppointmentStatus   = "appointment.status_changed"
	AppointmentPromoted = "appointment.promoted"
	AppointmentDeleted  = "appointment.deleted"
	StockMoved          = "stock.moved"
	MedicineLowStock    = "medicine.low_stock"
	MedicineExpiring    = "medicine.expiring"
	SaleRecorded        = "sale.recorded"
	InvoiceCreated      = "invoice.created"
	InvoicePaid         = "invoice.paid"
	MessageReceived     = "message.received"
	VisitRecorded       = "record.visit_added"
)

type Event struct {
	AggregateType string
	AggregateID   string
	Type          string
	Payload       any
}

// Recorder stores events for later publication.
type Recorder interface {
	Record(ctx context.Context, evts ...Event) error
}

// OutboxEvent is a stored outbox row.
type OutboxEvent struct {
	ID            int64
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	RetryCount    int
}

type Outbox struct {
	pool *pgxpool.Pool
}

// NewOutbox returns the Postgres outbox. Record joins the transaction bound
// to ctx, if any.
func NewOutbox(pool *pgxpool.Pool) *Outbox {
	return &Outbox{pool: pool}
}

func (o *Outbox) Record(ctx context.Context, evts ...Event) error {
	conn := db.Conn(ctx, o.pool)
	for _, e := range evts {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", e.Type, err)
		}
		if _, err := conn.Exec(ctx, `
			INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload)
			VALUES ($1, $2, $3, $4)`,
			e.AggregateType, e.AggregateID, e.Type, payload); err != nil {
			return fmt.Errorf("insert outbox event %s: %w", e.Type, err)
		}
	}
	return nil
}

// Claim locks up to limit unpublished events for the transaction bound to
// ctx. SKIP LOCKED lets several relays share the table.
func (o *Outbox) Claim(ctx context.Context, limit, maxRetries int) ([]OutboxEvent, error) {
	rows, err := db.Conn(ctx, o.pool).Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at, retry_count
		FROM outbox_events
		WHERE published_at IS NULL AND retry_count < $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType,
			&e.Payload, &e.CreatedAt, &e.RetryCount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (o *Outbox) MarkPublished(ctx context.Context, id int64) error {
	_, err := db.Conn(ctx, o.pool).Exec(ctx,
		`UPDATE outbox_events SET published_at = NOW(), error_message = NULL WHERE id = $1`, id)
	return err
}

func (o *Outbox) MarkFailed(ctx context.Context, id int64, msg string) error {
	_, err := db.Conn(ctx, o.pool).Exec(ctx,
		`UPDATE outbox_events SET retry_count = retry_count + 1, error_message = $2 WHERE id = $1`, id, msg)
	return err
}

// Purge deletes events published before the cutoff.
func (o *Outbox) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := db.Conn(ctx, o.pool).Exec(ctx,
		`DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
