package dto

import "time"

type PairDeviceRequest struct {
	Name         string   `json:"name" binding:"required,min=1,max=255"`
	Class        string   `json:"class" binding:"required"`
	Capabilities []string `json:"capabilities"`
}

type DeviceInfo struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Class         string    `json:"class"`
	Capabilities  []string  `json:"capabilities"`
	Online        bool      `json:"online"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	PairedAt      time.Time `json:"paired_at"`
}

// PairDeviceResponse carries the gateway token exactly once, at pairing
// time. It is never returned by any other endpoint.
type PairDeviceResponse struct {
	Device DeviceInfo `json:"device"`
	Token  string     `json:"token"`
}

type ListDevicesResponse struct {
	Devices []DeviceInfo `json:"devices"`
	Count   int          `json:"count"`
}
