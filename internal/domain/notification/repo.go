package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	// GetByID returns ErrNotFound when the notification does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// List returns the newest notifications first together with the number
	// of rows matching the filter.
	List(ctx context.Context, f ListFilter) ([]*Notification, int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	SetRead(ctx context.Context, id uuid.UUID, read bool, at time.Time) (*Notification, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
