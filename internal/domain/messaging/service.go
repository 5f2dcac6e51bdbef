package messaging

import (
	"context"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/cliniq/hms/internal/platform/apperr"
	"github.com/cliniq/hms/internal/platform/db"
	"github.com/cliniq/hms/internal/platform/events"
)

var (
	ErrMessageNotFound = apperr.NotFound("Message not found!")
	ErrIncompleteForm  = apperr.Invalid("Please Fill Full Form!")
	ErrInvalidEmail    = apperr.Invalid("Provide a valid email")
)

type Service struct {
	messages MessageRepository
	tx       db.Transactor
	events   events.Recorder
}

func NewService(messages MessageRepository, tx db.Transactor, recorder events.Recorder) *Service {
	return &Service{messages: messages, tx: tx, events: recorder}
}

// Send stores a contact message. Every field is required.
func (s *Service) Send(ctx context.Context, in MessageInput) (*Message, error) {
	m := &Message{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Email:     strings.TrimSpace(in.Email),
		Phone:     strings.TrimSpace(in.Phone),
		Body:      strings.TrimSpace(in.Message),
	}
	if m.FirstName == "" || m.LastName == "" || m.Email == "" || m.Phone == "" || m.Body == "" {
		return nil, ErrIncompleteForm
	}
	if _, err := mail.ParseAddress(m.Email); err != nil {
		return nil, ErrInvalidEmail
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.messages.Create(ctx, m); err != nil {
			return err
		}
		return s.events.Record(ctx, events.Event{
			AggregateType: "message",
			AggregateID:   m.ID.String(),
			Type:          events.MessageReceived,
			Payload: map[string]any{
				"id":    m.ID,
				"email": m.Email,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// List returns messages newest first together with the unread count.
func (s *Service) List(ctx context.Context, f MessageFilter, limit, offset int) ([]*Message, int, int, error) {
	items, total, err := s.messages.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, 0, err
	}
	unread, err := s.messages.CountUnread(ctx)
	if err != nil {
		return nil, 0, 0, err
	}
	return items, total, unread, nil
}

func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) error {
	return s.messages.MarkRead(ctx, id)
}

func (s *Service) MarkAllRead(ctx context.Context) (int64, error) {
	return s.messages.MarkAllRead(ctx)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.messages.Delete(ctx, id)
}
