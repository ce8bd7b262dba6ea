package devices

import (
	"errors"
	"time"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrNotOwner       = errors.New("device belongs to another user")
)

type Class string

const (
	ClassDesktop  Class = "desktop"
	ClassLaptop   Class = "laptop"
	ClassPhone    Class = "phone"
	ClassTablet   Class = "tablet"
	ClassServer   Class = "server"
	ClassEmbedded Class = "embedded"
)

// Device is one paired endpoint of a user. Created at pairing, heartbeats
// keep it reachable, deleted only on explicit unpairing.
type Device struct {
	ID            string
	UserID        string
	Name          string
	Class         Class
	Capabilities  []string
	Online        bool
	LastHeartbeat time.Time
	Token         string
	PairedAt      time.Time
}

// StalenessThreshold is the maximum heartbeat age for a device to count as
// reachable, regardless of its online flag.
const StalenessThreshold = 2 * time.Minute

// Reachable reports whether the device is eligible for selection at the
// given instant.
func (d Device) Reachable(now time.Time) bool {
	if !d.Online || d.LastHeartbeat.IsZero() {
		return false
	}
	return now.Sub(d.LastHeartbeat) < StalenessThreshold
}
