package devices

import "time"

// classScore ranks device classes for selection: a server is the steadiest
// executor, desktops and laptops next, battery devices last.
func classScore(c Class) int {
	switch c {
	case ClassServer:
		return 3
	case ClassDesktop, ClassLaptop:
		return 2
	default:
		return 1
	}
}

// SelectBest picks the single best reachable device from a snapshot, or nil
// when none qualifies. Pure function: callers treat nil as "no device
// available", not as an error.
func SelectBest(devs []Device) *Device {
	return SelectBestAt(devs, time.Now())
}

func SelectBestAt(devs []Device, now time.Time) *Device {
	var best *Device
	for i := range devs {
		d := &devs[i]
		if !d.Reachable(now) {
			continue
		}
		if best == nil {
			best = d
			continue
		}
		bs, ds := classScore(best.Class), classScore(d.Class)
		if ds > bs || (ds == bs && d.LastHeartbeat.After(best.LastHeartbeat)) {
			best = d
		}
	}
	if best == nil {
		return nil
	}
	picked := *best
	return &picked
}
