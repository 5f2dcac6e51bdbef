package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/cliniq/hms/internal/platform/db"
)

// Store is the outbox as seen by the relay.
type Store interface {
	Claim(ctx context.Context, limit, maxRetries int) ([]OutboxEvent, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, msg string) error
}

// Relay polls the outbox and publishes pending events.
type Relay struct {
	store      Store
	tx         db.Transactor
	publisher  Publisher
	logger     zerolog.Logger
	interval   time.Duration
	batchSize  int
	maxRetries int
}

func NewRelay(store Store, tx db.Transactor, publisher Publisher, logger zerolog.Logger, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Relay{
		store:      store,
		tx:         tx,
		publisher:  publisher,
		logger:     logger.With().Str("component", "outbox_relay").Logger(),
		interval:   interval,
		batchSize:  100,
		maxRetries: 5,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info().Dur("interval", r.interval).Msg("outbox relay started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopped")
			return
		case <-ticker.C:
			if n, err := r.Flush(ctx); err != nil {
				r.logger.Error().Err(err).Msg("flush outbox")
			} else if n > 0 {
				r.logger.Debug().Int("published", n).Msg("outbox flushed")
			}
		}
	}
}

type envelope struct {
	ID            int64           `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Payload       json.RawMessage `json:"payload"`
}

// Flush publishes one batch and returns how many events were published.
// An event that fails to publish is retried on later flushes until
// maxRetries.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	published := 0
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		batch, err := r.store.Claim(ctx, r.batchSize, r.maxRetries)
		if err != nil {
			return err
		}
		for _, e := range batch {
			value, err := json.Marshal(envelope{
				ID:            e.ID,
				Type:          e.EventType,
				AggregateType: e.AggregateType,
				AggregateID:   e.AggregateID,
				OccurredAt:    e.CreatedAt,
				Payload:       e.Payload,
			})
			if err != nil {
				return err
			}
			msg := Message{Key: e.AggregateType + "-" + e.AggregateID, Type: e.EventType, Value: value, Created: e.CreatedAt}
			if err := r.publisher.Publish(ctx, msg); err != nil {
				r.logger.Warn().Err(err).Int64("event_id", e.ID).Str("event_type", e.EventType).Msg("publish failed")
				if err := r.store.MarkFailed(ctx, e.ID, err.Error()); err != nil {
					return err
				}
				continue
			}
			if err := r.store.MarkPublished(ctx, e.ID); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	return published, err
}
