package messaging

import (
	"context"

	"github.com/google/uuid"
)

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	// List returns messages newest first.
	List(ctx context.Context, f MessageFilter, limit, offset int) ([]*Message, int, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	// MarkAllRead returns the number of messages that were unread.
	MarkAllRead(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CountUnread(ctx context.Context) (int, error)
}
