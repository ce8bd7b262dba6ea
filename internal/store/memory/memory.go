// Package memory is an in-process implementation of the device, relay, and
// queue store contracts. It backs the unit tests and the storeless dev mode;
// all conditional transitions happen under one mutex, which gives the same
// exactly-one-winner semantics the Postgres store gets from conditional
// updates.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/twinlink/broker/internal/devices"
	"github.com/twinlink/broker/internal/queue"
	"github.com/twinlink/broker/internal/relay"
	"github.com/twinlink/broker/internal/secure"
)

type Store struct {
	mu       sync.RWMutex
	devices  map[string]devices.Device
	commands map[string]relay.Command
	messages map[string]queue.Message
}

func New() *Store {
	return &Store{
		devices:  make(map[string]devices.Device),
		commands: make(map[string]relay.Command),
		messages: make(map[string]queue.Message),
	}
}

// --- devices.Store ---

func (s *Store) CreateDevice(_ context.Context, d devices.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = d
	return nil
}

func (s *Store) GetDevice(_ context.Context, id string) (devices.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return devices.Device{}, devices.ErrDeviceNotFound
	}
	return d, nil
}

func (s *Store) GetDeviceByToken(_ context.Context, token string) (devices.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.devices {
		if d.Token == token {
			return d, nil
		}
	}
	return devices.Device{}, devices.ErrDeviceNotFound
}

func (s *Store) ListDevicesByUser(_ context.Context, userID string) ([]devices.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]devices.Device, 0)
	for _, d := range s.devices {
		if d.UserID == userID {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PairedAt.Before(result[j].PairedAt) })
	return result, nil
}

func (s *Store) UpdateHeartbeat(_ context.Context, id string, at time.Time, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return devices.ErrDeviceNotFound
	}
	d.LastHeartbeat = at
	d.Online = online
	s.devices[id] = d
	return nil
}

func (s *Store) DeleteDevice(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[id]; !ok {
		return devices.ErrDeviceNotFound
	}
	delete(s.devices, id)
	return nil
}

// --- relay.Store ---

func (s *Store) InsertCommand(_ context.Context, cmd relay.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[cmd.ID] = cmd
	return nil
}

func (s *Store) GetCommand(_ context.Context, id string) (relay.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cmd, ok := s.commands[id]
	if !ok {
		return relay.Command{}, relay.ErrCommandNotFound
	}
	return cmd, nil
}

func (s *Store) ListPendingForDevice(_ context.Context, deviceID string, limit int) ([]relay.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]relay.Command, 0)
	for _, cmd := range s.commands {
		if cmd.DeviceID == deviceID && cmd.Status == relay.StatusPending {
			result = append(result, cmd)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) FinishCommand(_ context.Context, id string, status relay.Status, result *secure.Envelope) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.commands[id]
	if !ok {
		return false, relay.ErrCommandNotFound
	}
	if cmd.Status != relay.StatusPending {
		return false, nil
	}
	cmd.Status = status
	cmd.Result = result
	s.commands[id] = cmd
	return true, nil
}

func (s *Store) ExpireCommand(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.commands[id]
	if !ok {
		return false, relay.ErrCommandNotFound
	}
	if cmd.Status != relay.StatusPending {
		return false, nil
	}
	cmd.Status = relay.StatusExpired
	s.commands[id] = cmd
	return true, nil
}

func (s *Store) ExpireOverdue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for id, cmd := range s.commands {
		if cmd.Status == relay.StatusPending && now.After(cmd.ExpiresAt) {
			cmd.Status = relay.StatusExpired
			s.commands[id] = cmd
			expired++
		}
	}
	return expired, nil
}

// --- queue.Store ---

func (s *Store) InsertMessage(_ context.Context, m queue.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m
	return nil
}

func (s *Store) CountQueued(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.messages {
		if m.UserID == userID && m.Status == queue.StatusQueued {
			count++
		}
	}
	return count, nil
}

func (s *Store) ClaimQueued(_ context.Context, userID string, limit int, now time.Time) ([]queue.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Sweep expired rows before selecting.
	for id, m := range s.messages {
		if m.Status == queue.StatusQueued && now.After(m.ExpiresAt) {
			m.Status = queue.StatusExpired
			s.messages[id] = m
		}
	}

	candidates := make([]queue.Message, 0)
	for _, m := range s.messages {
		if m.UserID == userID && m.Status == queue.StatusQueued {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].QueuedAt.Before(candidates[j].QueuedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	for i := range candidates {
		candidates[i].Status = queue.StatusProcessing
		s.messages[candidates[i].ID] = candidates[i]
	}
	return candidates, nil
}

func (s *Store) MarkDelivered(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return queue.ErrMessageNotFound
	}
	m.Status = queue.StatusDelivered
	s.messages[id] = m
	return nil
}

func (s *Store) PurgeOld(_ context.Context, userID string, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, m := range s.messages {
		if m.UserID != userID {
			continue
		}
		if (m.Status == queue.StatusDelivered || m.Status == queue.StatusExpired) && m.QueuedAt.Before(olderThan) {
			delete(s.messages, id)
			removed++
		}
	}
	return removed, nil
}

// PurgeExpired is the broker-wide maintenance sweep: overdue queued rows
// flip to expired, terminal rows older than the cutoff are dropped.
func (s *Store) PurgeExpired(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, m := range s.messages {
		if m.Status == queue.StatusQueued && now.After(m.ExpiresAt) {
			m.Status = queue.StatusExpired
			s.messages[id] = m
		}
		if (m.Status == queue.StatusDelivered || m.Status == queue.StatusExpired) && m.QueuedAt.Before(olderThan) {
			delete(s.messages, id)
			removed++
		}
	}
	return removed, nil
}
