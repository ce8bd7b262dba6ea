// Package hub tracks live gateway connections from device agents and pushes
// wake-up nudges when new relay work is written. Purely a latency
// optimization over the agents' poll loop: a dropped nudge is repaired by
// the next poll.
package hub

import "sync"

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	DeviceID string
	Writer   Writer
}

type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[string]map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.DeviceID] == nil {
		h.connections[conn.DeviceID] = make(map[*Connection]struct{})
	}
	h.connections[conn.DeviceID][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.DeviceID]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.DeviceID)
	}
}

// Wake nudges every live connection of the device. Best effort: failed
// writers are closed and dropped.
func (h *Hub) Wake(deviceID string) {
	h.mu.RLock()
	set := h.connections[deviceID]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write([]byte(`{"type":"wake"}`)); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}
