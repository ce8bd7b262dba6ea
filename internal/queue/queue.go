package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMaxDepth = 50
	defaultTTL      = 24 * time.Hour
)

// urgencyTerms bump a message to PriorityUrgent. Bilingual on purpose: the
// product serves English and Korean channels.
var urgencyTerms = []string{
	"urgent", "asap", "emergency", "immediately", "right now",
	"긴급", "급해", "빨리", "지금 당장",
}

// DetectPriority derives the queue priority from the message text.
func DetectPriority(text string) int {
	lower := strings.ToLower(text)
	for _, term := range urgencyTerms {
		if strings.Contains(lower, term) {
			return PriorityUrgent
		}
	}
	return PriorityNormal
}

// EnqueueResult reports a successful enqueue.
type EnqueueResult struct {
	MessageID  string
	Priority   int
	QueueDepth int
	ExpiresAt  time.Time
}

// Queue persists inbound messages while no device is reachable, capped per
// user and drained FIFO within priority bands.
type Queue struct {
	store    Store
	maxDepth int
	ttl      time.Duration
}

type Option func(*Queue)

func WithMaxDepth(n int) Option {
	return func(q *Queue) { q.maxDepth = n }
}

func WithTTL(d time.Duration) Option {
	return func(q *Queue) { q.ttl = d }
}

func New(store Store, opts ...Option) *Queue {
	q := &Queue{store: store, maxDepth: defaultMaxDepth, ttl: defaultTTL}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue inserts the message unless the user is at the depth cap. A full
// queue is a normal, reportable condition (ErrQueueFull), never an eviction
// of older entries.
func (q *Queue) Enqueue(ctx context.Context, userID, text string, src Source) (EnqueueResult, error) {
	depth, err := q.store.CountQueued(ctx, userID)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("count queued messages: %w", err)
	}
	if depth >= q.maxDepth {
		return EnqueueResult{}, ErrQueueFull
	}

	now := time.Now()
	m := Message{
		ID:            uuid.NewString(),
		UserID:        userID,
		Text:          text,
		SourceChannel: src.Channel,
		SourceUserID:  src.ExternalUserID,
		SessionID:     src.SessionID,
		Category:      src.Category,
		Priority:      DetectPriority(text),
		Status:        StatusQueued,
		QueuedAt:      now,
		ExpiresAt:     now.Add(q.ttl),
	}
	if err := q.store.InsertMessage(ctx, m); err != nil {
		return EnqueueResult{}, fmt.Errorf("insert queued message: %w", err)
	}

	slog.Info("Message queued for offline processing",
		"message_id", m.ID,
		"user_id", userID,
		"priority", m.Priority,
		"queue_depth", depth+1)

	return EnqueueResult{
		MessageID:  m.ID,
		Priority:   m.Priority,
		QueueDepth: depth + 1,
		ExpiresAt:  m.ExpiresAt,
	}, nil
}

// Dequeue claims up to limit messages for a reconnecting device: expired
// rows are swept first, then rows come back priority-descending and FIFO
// within a band, already flipped to processing.
func (q *Queue) Dequeue(ctx context.Context, userID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	msgs, err := q.store.ClaimQueued(ctx, userID, limit, time.Now())
	if err != nil {
		return nil, fmt.Errorf("claim queued messages: %w", err)
	}
	return msgs, nil
}

// MarkDelivered confirms a drained message reached a device.
func (q *Queue) MarkDelivered(ctx context.Context, id string) error {
	return q.store.MarkDelivered(ctx, id)
}

// PurgeOld removes delivered/expired rows older than the given age.
func (q *Queue) PurgeOld(ctx context.Context, userID string, olderThan time.Duration) (int, error) {
	n, err := q.store.PurgeOld(ctx, userID, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge queued messages: %w", err)
	}
	if n > 0 {
		slog.Debug("Purged old queued messages", "user_id", userID, "removed", n)
	}
	return n, nil
}
