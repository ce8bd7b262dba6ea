package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twinlink/broker/internal/devices"
	"github.com/twinlink/broker/internal/relay"
	"github.com/twinlink/broker/internal/secure"
)

type relayStore interface {
	devices.Store
	relay.Store
}

func newPendingCommand(deviceID string, priority int, ttl time.Duration) relay.Command {
	now := time.Now().UTC()
	return relay.Command{
		ID:       uuid.NewString(),
		UserID:   "relay-suite",
		DeviceID: deviceID,
		Payload: secure.Envelope{
			Ciphertext: "Y2lwaGVydGV4dA==",
			Nonce:      "bm9uY2U=",
			Tag:        "dGFn",
		},
		Status:    relay.StatusPending,
		Priority:  priority,
		Kind:      relay.KindCommand,
		Preview:   "test command",
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestRelayTransitions(t *testing.T, store relayStore) {
	ctx := context.Background()

	device := newTestDevice("relay-suite", "relay-target")
	require.NoError(t, store.CreateDevice(ctx, device))

	t.Run("roundtrip preserves the envelope", func(t *testing.T) {
		cmd := newPendingCommand(device.ID, 0, time.Minute)
		require.NoError(t, store.InsertCommand(ctx, cmd))

		got, err := store.GetCommand(ctx, cmd.ID)
		require.NoError(t, err)
		assert.Equal(t, cmd.Payload, got.Payload)
		assert.Equal(t, relay.StatusPending, got.Status)
		assert.Nil(t, got.Result)
	})

	t.Run("pending listing is priority ordered", func(t *testing.T) {
		target := newTestDevice("relay-suite", "ordering-target")
		require.NoError(t, store.CreateDevice(ctx, target))

		normal := newPendingCommand(target.ID, 0, time.Minute)
		urgent := newPendingCommand(target.ID, 1, time.Minute)
		require.NoError(t, store.InsertCommand(ctx, normal))
		require.NoError(t, store.InsertCommand(ctx, urgent))

		pending, err := store.ListPendingForDevice(ctx, target.ID, 10)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, urgent.ID, pending[0].ID)
		assert.Equal(t, normal.ID, pending[1].ID)
	})

	t.Run("finish wins exactly once", func(t *testing.T) {
		cmd := newPendingCommand(device.ID, 0, time.Minute)
		require.NoError(t, store.InsertCommand(ctx, cmd))

		result := &secure.Envelope{Ciphertext: "cg==", Nonce: "bg==", Tag: "dA=="}
		won, err := store.FinishCommand(ctx, cmd.ID, relay.StatusCompleted, result)
		require.NoError(t, err)
		assert.True(t, won)

		won, err = store.FinishCommand(ctx, cmd.ID, relay.StatusFailed, result)
		require.NoError(t, err)
		assert.False(t, won)

		won, err = store.ExpireCommand(ctx, cmd.ID)
		require.NoError(t, err)
		assert.False(t, won)

		got, err := store.GetCommand(ctx, cmd.ID)
		require.NoError(t, err)
		assert.Equal(t, relay.StatusCompleted, got.Status)
		require.NotNil(t, got.Result)
		assert.Equal(t, *result, *got.Result)
	})

	t.Run("concurrent terminal transitions have one winner", func(t *testing.T) {
		result := &secure.Envelope{Ciphertext: "cg==", Nonce: "bg==", Tag: "dA=="}

		for i := 0; i < 20; i++ {
			cmd := newPendingCommand(device.ID, 0, time.Minute)
			require.NoError(t, store.InsertCommand(ctx, cmd))

			var wg sync.WaitGroup
			wins := make([]bool, 2)
			wg.Add(2)
			go func() {
				defer wg.Done()
				won, err := store.FinishCommand(ctx, cmd.ID, relay.StatusCompleted, result)
				require.NoError(t, err)
				wins[0] = won
			}()
			go func() {
				defer wg.Done()
				won, err := store.ExpireCommand(ctx, cmd.ID)
				require.NoError(t, err)
				wins[1] = won
			}()
			wg.Wait()

			assert.NotEqual(t, wins[0], wins[1], "exactly one transition must win")
		}
	})

	t.Run("overdue sweep expires only overdue pending rows", func(t *testing.T) {
		target := newTestDevice("relay-suite", "sweep-target")
		require.NoError(t, store.CreateDevice(ctx, target))

		overdue := newPendingCommand(target.ID, 0, -time.Second)
		fresh := newPendingCommand(target.ID, 0, time.Minute)
		require.NoError(t, store.InsertCommand(ctx, overdue))
		require.NoError(t, store.InsertCommand(ctx, fresh))

		n, err := store.ExpireOverdue(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)

		got, err := store.GetCommand(ctx, overdue.ID)
		require.NoError(t, err)
		assert.Equal(t, relay.StatusExpired, got.Status)

		got, err = store.GetCommand(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, relay.StatusPending, got.Status)
	})
}
