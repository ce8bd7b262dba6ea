package devices

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dev(name string, class Class, online bool, heartbeatAge time.Duration, now time.Time) Device {
	return Device{
		ID:            name,
		Name:          name,
		Class:         class,
		Online:        online,
		LastHeartbeat: now.Add(-heartbeatAge),
	}
}

func TestSelectBestEmpty(t *testing.T) {
	assert.Nil(t, SelectBestAt(nil, time.Now()))
	assert.Nil(t, SelectBestAt([]Device{}, time.Now()))
}

func TestSelectBestSkipsOfflineAndStale(t *testing.T) {
	now := time.Now()
	devs := []Device{
		dev("offline", ClassServer, false, 10*time.Second, now),
		dev("stale", ClassServer, true, 3*time.Minute, now),
	}
	assert.Nil(t, SelectBestAt(devs, now))
}

func TestSelectBestNeverPicksStale(t *testing.T) {
	now := time.Now()
	devs := []Device{
		dev("stale-server", ClassServer, true, 2*time.Minute, now),
		dev("fresh-phone", ClassPhone, true, 5*time.Second, now),
	}
	best := SelectBestAt(devs, now)
	require.NotNil(t, best)
	assert.Equal(t, "fresh-phone", best.Name)
}

func TestSelectBestPrefersServerClass(t *testing.T) {
	now := time.Now()
	devs := []Device{
		dev("phone", ClassPhone, true, 1*time.Second, now),
		dev("desktop", ClassDesktop, true, 30*time.Second, now),
		dev("server", ClassServer, true, 90*time.Second, now),
	}
	best := SelectBestAt(devs, now)
	require.NotNil(t, best)
	assert.Equal(t, "server", best.Name)
}

func TestSelectBestDesktopOverPhone(t *testing.T) {
	now := time.Now()
	devs := []Device{
		dev("phone", ClassPhone, true, 1*time.Second, now),
		dev("laptop", ClassLaptop, true, 60*time.Second, now),
	}
	best := SelectBestAt(devs, now)
	require.NotNil(t, best)
	assert.Equal(t, "laptop", best.Name)
}

func TestSelectBestTieBreakMostRecentHeartbeat(t *testing.T) {
	now := time.Now()
	devs := []Device{
		dev("desktop-older", ClassDesktop, true, 40*time.Second, now),
		dev("laptop-fresher", ClassLaptop, true, 2*time.Second, now),
	}
	best := SelectBestAt(devs, now)
	require.NotNil(t, best)
	assert.Equal(t, "laptop-fresher", best.Name)
}

func TestSelectBestReturnsCopy(t *testing.T) {
	now := time.Now()
	devs := []Device{dev("server", ClassServer, true, 1*time.Second, now)}
	best := SelectBestAt(devs, now)
	require.NotNil(t, best)

	best.Name = "mutated"
	assert.Equal(t, "server", devs[0].Name)
}

func TestReachable(t *testing.T) {
	now := time.Now()
	assert.True(t, dev("a", ClassPhone, true, time.Minute, now).Reachable(now))
	assert.False(t, dev("b", ClassPhone, true, 2*time.Minute, now).Reachable(now))
	assert.False(t, dev("c", ClassPhone, false, time.Second, now).Reachable(now))
	assert.False(t, Device{Online: true}.Reachable(now))
}
