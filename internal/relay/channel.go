package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/twinlink/broker/internal/devices"
	"github.com/twinlink/broker/internal/secure"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	previewLimit        = 80
)

// Notifier nudges a connected device that new work is waiting. Optional and
// best effort: a missed nudge costs at most one poll interval.
type Notifier interface {
	Wake(deviceID string)
}

// Result is the outcome of one dispatched command.
type Result struct {
	CommandID string
	Success   bool
	Response  string
}

// Channel brokers encrypted commands between callers and a device: it never
// talks to the device directly, only writes a pending row and polls it.
type Channel struct {
	store        Store
	box          *secure.Box
	notifier     Notifier
	pollInterval time.Duration
}

type ChannelOption func(*Channel)

func WithPollInterval(d time.Duration) ChannelOption {
	return func(c *Channel) { c.pollInterval = d }
}

func WithNotifier(n Notifier) ChannelOption {
	return func(c *Channel) { c.notifier = n }
}

func NewChannel(store Store, box *secure.Box, opts ...ChannelOption) *Channel {
	c := &Channel{
		store:        store,
		box:          box,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatch encrypts the payload, writes a pending command row addressed to
// the device, and polls until the device answers or the timeout passes. On
// timeout it attempts the conditional pending->expired transition and
// returns ErrTimeout whether or not that transition won.
func (c *Channel) Dispatch(ctx context.Context, userID string, device devices.Device, p Payload, priority int, timeout time.Duration) (Result, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Result{}, fmt.Errorf("serialize payload: %w", err)
	}

	env, err := c.box.Seal(raw)
	if err != nil {
		// Missing secret is fatal by design: never fall back to plaintext.
		return Result{}, err
	}

	now := time.Now()
	cmd := Command{
		ID:        uuid.NewString(),
		UserID:    userID,
		DeviceID:  device.ID,
		Payload:   env,
		Status:    StatusPending,
		Priority:  priority,
		Kind:      p.Kind,
		Preview:   preview(p.Text),
		CreatedAt: now,
		ExpiresAt: now.Add(timeout),
	}
	if err := c.store.InsertCommand(ctx, cmd); err != nil {
		return Result{}, fmt.Errorf("insert relay command: %w", err)
	}

	if c.notifier != nil {
		c.notifier.Wake(device.ID)
	}

	slog.Debug("Relay command dispatched",
		"command_id", cmd.ID,
		"device_id", device.ID,
		"kind", cmd.Kind,
		"timeout", timeout)

	return c.poll(ctx, cmd.ID, cmd.ExpiresAt)
}

func (c *Channel) poll(ctx context.Context, commandID string, deadline time.Time) (Result, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.expire(commandID)
			return Result{CommandID: commandID}, ctx.Err()
		case <-ticker.C:
		}

		cmd, err := c.store.GetCommand(ctx, commandID)
		if err != nil {
			return Result{CommandID: commandID}, fmt.Errorf("poll relay command: %w", err)
		}

		switch cmd.Status {
		case StatusPending:
			if time.Now().After(deadline) {
				c.expire(commandID)
				return Result{CommandID: commandID}, ErrTimeout
			}
		case StatusCompleted, StatusFailed:
			return c.finish(cmd)
		case StatusExpired:
			return Result{CommandID: commandID}, ErrTimeout
		}
	}
}

// expire attempts the broker-side conditional transition. Losing the race to
// a late device write is fine; the caller still reports a timeout.
func (c *Channel) expire(commandID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	won, err := c.store.ExpireCommand(ctx, commandID)
	if err != nil {
		slog.Warn("Failed to expire relay command", "command_id", commandID, "error", err)
		return
	}
	if !won {
		slog.Debug("Device result arrived during expiry, leaving it", "command_id", commandID)
	}
}

func (c *Channel) finish(cmd Command) (Result, error) {
	res := Result{
		CommandID: cmd.ID,
		Success:   cmd.Status == StatusCompleted,
	}
	if cmd.Result == nil {
		return res, nil
	}

	plaintext, err := c.box.Open(*cmd.Result)
	if err != nil {
		// A result we cannot decrypt is a failed relay, not a crash.
		slog.Warn("Failed to decrypt device result", "command_id", cmd.ID, "error", err)
		res.Success = false
		return res, nil
	}
	res.Response = string(plaintext)
	return res, nil
}

// OpenPayload decrypts a command payload. Used by the device gateway tests
// and the reference agent; devices hold their own Box with the same secret.
func (c *Channel) OpenPayload(env secure.Envelope) (Payload, error) {
	raw, err := c.box.Open(env)
	if err != nil {
		return Payload{}, err
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return text
	}
	return string(runes[:previewLimit]) + "..."
}
