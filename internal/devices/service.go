package devices

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract for paired devices. Implementations must
// return ErrDeviceNotFound for missing rows.
type Store interface {
	CreateDevice(ctx context.Context, d Device) error
	GetDevice(ctx context.Context, id string) (Device, error)
	GetDeviceByToken(ctx context.Context, token string) (Device, error)
	ListDevicesByUser(ctx context.Context, userID string) ([]Device, error)
	UpdateHeartbeat(ctx context.Context, id string, at time.Time, online bool) error
	DeleteDevice(ctx context.Context, id string) error
}

// Presence is an optional liveness cache in front of the store columns.
// A Touch sets a TTL'd marker; Alive reports whether the marker is still
// there. When unset, liveness falls back to the persisted heartbeat.
type Presence interface {
	Touch(ctx context.Context, deviceID string) error
	Alive(ctx context.Context, deviceID string) (bool, error)
}

type Registry struct {
	store    Store
	presence Presence
}

func NewRegistry(store Store, presence Presence) *Registry {
	return &Registry{store: store, presence: presence}
}

// Pair registers a new device for the user and issues its gateway token.
func (r *Registry) Pair(ctx context.Context, userID, name string, class Class, capabilities []string) (Device, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return Device{}, fmt.Errorf("generate device token: %w", err)
	}

	d := Device{
		ID:           uuid.NewString(),
		UserID:       userID,
		Name:         name,
		Class:        class,
		Capabilities: capabilities,
		Online:       false,
		Token:        "dt_" + hex.EncodeToString(b),
		PairedAt:     time.Now(),
	}
	if err := r.store.CreateDevice(ctx, d); err != nil {
		return Device{}, fmt.Errorf("create device: %w", err)
	}

	slog.Info("Device paired", "device_id", d.ID, "user_id", userID, "name", name, "class", class)
	return d, nil
}

// Unpair removes a device after an ownership check.
func (r *Registry) Unpair(ctx context.Context, userID, deviceID string) error {
	d, err := r.store.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if d.UserID != userID {
		return ErrNotOwner
	}
	if err := r.store.DeleteDevice(ctx, deviceID); err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	slog.Info("Device unpaired", "device_id", deviceID, "user_id", userID)
	return nil
}

// Authenticate resolves a device gateway token to its device.
func (r *Registry) Authenticate(ctx context.Context, token string) (Device, error) {
	return r.store.GetDeviceByToken(ctx, token)
}

// Heartbeat records device liveness. The presence cache write is best
// effort: a miss costs nothing because the next heartbeat repairs it.
func (r *Registry) Heartbeat(ctx context.Context, deviceID string) error {
	now := time.Now()
	if err := r.store.UpdateHeartbeat(ctx, deviceID, now, true); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	if r.presence != nil {
		if err := r.presence.Touch(ctx, deviceID); err != nil {
			slog.Debug("Presence touch failed", "device_id", deviceID, "error", err)
		}
	}
	return nil
}

// List returns the user's devices with the online flag refreshed from the
// presence cache when one is configured.
func (r *Registry) List(ctx context.Context, userID string) ([]Device, error) {
	devs, err := r.store.ListDevicesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	if r.presence != nil {
		for i := range devs {
			alive, err := r.presence.Alive(ctx, devs[i].ID)
			if err != nil {
				continue // fall back to the store columns
			}
			devs[i].Online = alive
		}
	}
	return devs, nil
}

// OnlineDevices filters the user's devices down to currently reachable ones.
func (r *Registry) OnlineDevices(ctx context.Context, userID string) ([]Device, error) {
	devs, err := r.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	online := make([]Device, 0, len(devs))
	for _, d := range devs {
		if d.Reachable(now) {
			online = append(online, d)
		}
	}
	return online, nil
}
