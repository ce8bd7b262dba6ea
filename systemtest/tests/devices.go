package tests

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twinlink/broker/internal/devices"
)

func newTestDevice(userID, name string) devices.Device {
	return devices.Device{
		ID:           uuid.NewString(),
		UserID:       userID,
		Name:         name,
		Class:        devices.ClassLaptop,
		Capabilities: []string{"shell"},
		Token:        "dt_" + uuid.NewString(),
		PairedAt:     time.Now().UTC(),
	}
}

func TestDeviceStore(t *testing.T, store devices.Store) {
	ctx := context.Background()
	userID := "device-suite-" + uuid.NewString()

	d := newTestDevice(userID, "macbook")
	require.NoError(t, store.CreateDevice(ctx, d))

	t.Run("get by id", func(t *testing.T) {
		got, err := store.GetDevice(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, d.Name, got.Name)
		assert.Equal(t, devices.ClassLaptop, got.Class)
		assert.Equal(t, []string{"shell"}, got.Capabilities)
		assert.False(t, got.Online)
	})

	t.Run("get by token", func(t *testing.T) {
		got, err := store.GetDeviceByToken(ctx, d.Token)
		require.NoError(t, err)
		assert.Equal(t, d.ID, got.ID)
	})

	t.Run("missing device", func(t *testing.T) {
		_, err := store.GetDevice(ctx, uuid.NewString())
		assert.ErrorIs(t, err, devices.ErrDeviceNotFound)
	})

	t.Run("heartbeat persists", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, store.UpdateHeartbeat(ctx, d.ID, at, true))

		got, err := store.GetDevice(ctx, d.ID)
		require.NoError(t, err)
		assert.True(t, got.Online)
		assert.WithinDuration(t, at, got.LastHeartbeat, time.Second)
	})

	t.Run("list is scoped to the user", func(t *testing.T) {
		other := newTestDevice("someone-else", "phone")
		require.NoError(t, store.CreateDevice(ctx, other))

		list, err := store.ListDevicesByUser(ctx, userID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, d.ID, list[0].ID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteDevice(ctx, d.ID))
		_, err := store.GetDevice(ctx, d.ID)
		assert.ErrorIs(t, err, devices.ErrDeviceNotFound)

		assert.ErrorIs(t, store.DeleteDevice(ctx, d.ID), devices.ErrDeviceNotFound)
	})
}
