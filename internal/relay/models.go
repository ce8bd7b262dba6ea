package relay

import (
	"context"
	"errors"
	"time"

	"github.com/twinlink/broker/internal/secure"
)

var (
	ErrCommandNotFound = errors.New("relay command not found")
	ErrTimeout         = errors.New("device did not respond before the deadline")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

type Kind string

const (
	KindCommand      Kind = "command"
	KindConversation Kind = "conversation"
)

// Command is one unit of brokered work. The row is insert-once; its only
// mutation is the single transition out of pending, either device-authored
// (completed/failed, with an encrypted result) or broker-authored (expired).
type Command struct {
	ID        string
	UserID    string
	DeviceID  string
	Payload   secure.Envelope
	Status    Status
	Priority  int
	Kind      Kind
	Preview   string
	CreatedAt time.Time
	ExpiresAt time.Time
	Result    *secure.Envelope
}

// Payload is the plaintext the broker seals and the device opens. Shared
// wire contract with the device agent.
type Payload struct {
	Kind      Kind   `json:"kind"`
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

// Store is the persistence contract for relay commands. The two transition
// methods are compare-and-set on status=pending and report whether this
// caller won the transition; that atomicity is the protocol's only
// concurrency-control point.
type Store interface {
	InsertCommand(ctx context.Context, cmd Command) error
	GetCommand(ctx context.Context, id string) (Command, error)
	ListPendingForDevice(ctx context.Context, deviceID string, limit int) ([]Command, error)
	// FinishCommand moves pending -> completed|failed with the device's
	// encrypted result. Returns false when the row already left pending.
	FinishCommand(ctx context.Context, id string, status Status, result *secure.Envelope) (bool, error)
	// ExpireCommand moves pending -> expired. Returns false when a device
	// write got there first.
	ExpireCommand(ctx context.Context, id string) (bool, error)
	// ExpireOverdue sweeps pending rows whose deadline has passed.
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
}
