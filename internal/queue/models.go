package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueFull       = errors.New("offline queue is full for this user")
	ErrMessageNotFound = errors.New("queued message not found")
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusExpired    Status = "expired"
)

const (
	PriorityNormal = 0
	PriorityUrgent = 1
)

// Message is an inbound user message held because no device could be
// reached. Device-agnostic until a reconnecting device drains it.
type Message struct {
	ID            string
	UserID        string
	Text          string
	SourceChannel string
	SourceUserID  string
	SessionID     string
	Category      string
	Priority      int
	Status        Status
	QueuedAt      time.Time
	ExpiresAt     time.Time
}

// Source identifies where a queued message came from.
type Source struct {
	Channel        string
	ExternalUserID string
	SessionID      string
	Category       string
}

// Store is the persistence contract for the offline queue. ClaimQueued must
// be atomic across concurrent callers for the same user: it sweeps expired
// rows first, then flips the returned rows queued -> processing so no two
// devices drain the same message.
type Store interface {
	InsertMessage(ctx context.Context, m Message) error
	CountQueued(ctx context.Context, userID string) (int, error)
	ClaimQueued(ctx context.Context, userID string, limit int, now time.Time) ([]Message, error)
	MarkDelivered(ctx context.Context, id string) error
	PurgeOld(ctx context.Context, userID string, olderThan time.Time) (int, error)
}
