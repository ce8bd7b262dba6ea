package relay_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinlink/broker/internal/devices"
	"github.com/twinlink/broker/internal/relay"
	"github.com/twinlink/broker/internal/secure"
	"github.com/twinlink/broker/internal/store/memory"
)

func testDevice() devices.Device {
	return devices.Device{
		ID:     "dev-1",
		UserID: "user-1",
		Name:   "laptop",
		Class:  devices.ClassLaptop,
	}
}

// answer plays the device side: waits for the pending row, opens the
// payload, and writes back an encrypted result.
func answer(t *testing.T, store *memory.Store, box *secure.Box, deviceID string, status relay.Status, reply func(relay.Payload) string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Error("device never saw a pending command")
			return
		default:
		}

		pending, err := store.ListPendingForDevice(context.Background(), deviceID, 1)
		require.NoError(t, err)
		if len(pending) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}

		cmd := pending[0]
		raw, err := box.Open(cmd.Payload)
		require.NoError(t, err)

		var p relay.Payload
		require.NoError(t, json.Unmarshal(raw, &p))

		env, err := box.Seal([]byte(reply(p)))
		require.NoError(t, err)

		won, err := store.FinishCommand(context.Background(), cmd.ID, status, &env)
		require.NoError(t, err)
		assert.True(t, won)
		return
	}
}

func TestDispatchCompleted(t *testing.T) {
	store := memory.New()
	box := secure.NewBox("shared-secret")
	ch := relay.NewChannel(store, box, relay.WithPollInterval(2*time.Millisecond))

	go answer(t, store, secure.NewBox("shared-secret"), "dev-1", relay.StatusCompleted, func(p relay.Payload) string {
		assert.Equal(t, relay.KindConversation, p.Kind)
		return "echo: " + p.Text
	})

	res, err := ch.Dispatch(context.Background(), "user-1", testDevice(), relay.Payload{
		Kind: relay.KindConversation,
		Text: "hello",
	}, 0, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "echo: hello", res.Response)
}

func TestDispatchFailed(t *testing.T) {
	store := memory.New()
	box := secure.NewBox("shared-secret")
	ch := relay.NewChannel(store, box, relay.WithPollInterval(2*time.Millisecond))

	go answer(t, store, secure.NewBox("shared-secret"), "dev-1", relay.StatusFailed, func(relay.Payload) string {
		return "command not found"
	})

	res, err := ch.Dispatch(context.Background(), "user-1", testDevice(), relay.Payload{
		Kind: relay.KindCommand,
		Text: "frobnicate",
	}, 0, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "command not found", res.Response)
}

func TestDispatchTimeoutExpiresRow(t *testing.T) {
	store := memory.New()
	box := secure.NewBox("shared-secret")
	ch := relay.NewChannel(store, box, relay.WithPollInterval(2*time.Millisecond))

	res, err := ch.Dispatch(context.Background(), "user-1", testDevice(), relay.Payload{
		Kind: relay.KindConversation,
		Text: "anyone there?",
	}, 0, 10*time.Millisecond)
	assert.ErrorIs(t, err, relay.ErrTimeout)

	cmd, gerr := store.GetCommand(context.Background(), res.CommandID)
	require.NoError(t, gerr)
	assert.Equal(t, relay.StatusExpired, cmd.Status)
}

func TestDispatchMissingSecretIsFatal(t *testing.T) {
	store := memory.New()
	ch := relay.NewChannel(store, secure.NewBox(""))

	_, err := ch.Dispatch(context.Background(), "user-1", testDevice(), relay.Payload{
		Kind: relay.KindConversation,
		Text: "hello",
	}, 0, time.Second)
	assert.ErrorIs(t, err, secure.ErrNoSecret)

	// Nothing was written: no silent plaintext fallback.
	pending, perr := store.ListPendingForDevice(context.Background(), "dev-1", 10)
	require.NoError(t, perr)
	assert.Empty(t, pending)
}

func TestDispatchUndecryptableResultIsFailure(t *testing.T) {
	store := memory.New()
	ch := relay.NewChannel(store, secure.NewBox("broker-secret"), relay.WithPollInterval(2*time.Millisecond))

	// Device seals its result under a mismatched secret; the broker must
	// surface a failed relay, not a crash.
	go func() {
		deviceBox := secure.NewBox("device-has-wrong-secret")
		for {
			pending, _ := store.ListPendingForDevice(context.Background(), "dev-1", 1)
			if len(pending) == 0 {
				time.Sleep(time.Millisecond)
				continue
			}
			env, _ := deviceBox.Seal([]byte("unreadable"))
			_, _ = store.FinishCommand(context.Background(), pending[0].ID, relay.StatusCompleted, &env)
			return
		}
	}()

	res, err := ch.Dispatch(context.Background(), "user-1", testDevice(), relay.Payload{
		Kind: relay.KindConversation,
		Text: "hello",
	}, 0, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.Response)
}

func TestTerminalStateRaceHasExactlyOneWinner(t *testing.T) {
	store := memory.New()
	box := secure.NewBox("shared-secret")

	env, err := box.Seal([]byte("{}"))
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		cmd := relay.Command{
			ID:        "race-cmd",
			UserID:    "user-1",
			DeviceID:  "dev-1",
			Payload:   env,
			Status:    relay.StatusPending,
			Kind:      relay.KindCommand,
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(time.Second),
		}
		require.NoError(t, store.InsertCommand(context.Background(), cmd))

		var wg sync.WaitGroup
		var deviceWon, brokerWon bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			won, err := store.FinishCommand(context.Background(), "race-cmd", relay.StatusCompleted, &env)
			require.NoError(t, err)
			deviceWon = won
		}()
		go func() {
			defer wg.Done()
			won, err := store.ExpireCommand(context.Background(), "race-cmd")
			require.NoError(t, err)
			brokerWon = won
		}()
		wg.Wait()

		assert.NotEqual(t, deviceWon, brokerWon, "exactly one writer must win")

		got, err := store.GetCommand(context.Background(), "race-cmd")
		require.NoError(t, err)
		if deviceWon {
			assert.Equal(t, relay.StatusCompleted, got.Status)
		} else {
			assert.Equal(t, relay.StatusExpired, got.Status)
		}
	}
}

func TestFinishAfterTerminalIsRejected(t *testing.T) {
	store := memory.New()
	box := secure.NewBox("shared-secret")
	env, err := box.Seal([]byte("{}"))
	require.NoError(t, err)

	cmd := relay.Command{
		ID:        "cmd-1",
		DeviceID:  "dev-1",
		Payload:   env,
		Status:    relay.StatusPending,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Second),
	}
	require.NoError(t, store.InsertCommand(context.Background(), cmd))

	won, err := store.ExpireCommand(context.Background(), "cmd-1")
	require.NoError(t, err)
	require.True(t, won)

	// Late device write must not rewrite the terminal state.
	won, err = store.FinishCommand(context.Background(), "cmd-1", relay.StatusCompleted, &env)
	require.NoError(t, err)
	assert.False(t, won)

	got, err := store.GetCommand(context.Background(), "cmd-1")
	require.NoError(t, err)
	assert.Equal(t, relay.StatusExpired, got.Status)
}

func TestPreviewTruncated(t *testing.T) {
	store := memory.New()
	box := secure.NewBox("shared-secret")
	ch := relay.NewChannel(store, box, relay.WithPollInterval(2*time.Millisecond))

	long := make([]byte, 0, 300)
	for i := 0; i < 300; i++ {
		long = append(long, 'a')
	}

	res, err := ch.Dispatch(context.Background(), "user-1", testDevice(), relay.Payload{
		Kind: relay.KindConversation,
		Text: string(long),
	}, 0, 5*time.Millisecond)
	assert.ErrorIs(t, err, relay.ErrTimeout)

	cmd, gerr := store.GetCommand(context.Background(), res.CommandID)
	require.NoError(t, gerr)
	assert.Less(t, len(cmd.Preview), 100)
	assert.NotEqual(t, string(long), cmd.Preview)
}
