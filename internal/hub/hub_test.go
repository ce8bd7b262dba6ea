package hub

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages [][]byte
	failWith error
	closed   bool
}

func (w *fakeWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWith != nil {
		return w.failWith
	}
	w.messages = append(w.messages, message)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestWakeDeliversToDevice(t *testing.T) {
	h := New()
	w := &fakeWriter{}
	h.Register(&Connection{DeviceID: "dev-1", Writer: w})

	h.Wake("dev-1")

	assert.Len(t, w.messages, 1)
	assert.JSONEq(t, `{"type":"wake"}`, string(w.messages[0]))
}

func TestWakeOtherDeviceUntouched(t *testing.T) {
	h := New()
	w1, w2 := &fakeWriter{}, &fakeWriter{}
	h.Register(&Connection{DeviceID: "dev-1", Writer: w1})
	h.Register(&Connection{DeviceID: "dev-2", Writer: w2})

	h.Wake("dev-1")

	assert.Len(t, w1.messages, 1)
	assert.Empty(t, w2.messages)
}

func TestWakeUnknownDeviceNoop(t *testing.T) {
	h := New()
	h.Wake("nobody")
}

func TestWakeDropsFailedConnections(t *testing.T) {
	h := New()
	w := &fakeWriter{failWith: errors.New("gone")}
	conn := &Connection{DeviceID: "dev-1", Writer: w}
	h.Register(conn)

	h.Wake("dev-1")
	assert.True(t, w.closed)

	// Second wake finds no connection left.
	h.Wake("dev-1")
	assert.Empty(t, w.messages)
}

func TestUnregisterIdempotent(t *testing.T) {
	h := New()
	conn := &Connection{DeviceID: "dev-1", Writer: &fakeWriter{}}
	h.Register(conn)
	h.Unregister(conn)
	h.Unregister(conn)
}
