package dto

import (
	"time"

	"github.com/twinlink/broker/internal/secure"
)

type HeartbeatResponse struct {
	Status string `json:"status"`
}

// PendingCommand is a relay row as the gateway hands it to a device agent.
// The payload stays sealed; only the owning agent can open it.
type PendingCommand struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   secure.Envelope `json:"payload"`
	Priority  int             `json:"priority"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type ListCommandsResponse struct {
	Commands []PendingCommand `json:"commands"`
	Count    int              `json:"count"`
}

type SubmitResultRequest struct {
	Status string          `json:"status" binding:"required,oneof=completed failed"`
	Result secure.Envelope `json:"result" binding:"required"`
}

type QueuedMessageInfo struct {
	ID            string    `json:"id"`
	Message       string    `json:"message"`
	SourceChannel string    `json:"source_channel,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	Category      string    `json:"category,omitempty"`
	Priority      int       `json:"priority"`
	QueuedAt      time.Time `json:"queued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type DrainQueueResponse struct {
	Messages []QueuedMessageInfo `json:"messages"`
	Count    int                 `json:"count"`
}
