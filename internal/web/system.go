package web

import "time"

// HostSnapshot describes the box gnssmon runs on: where the UI can be reached
// and how much room the record database has left.
type HostSnapshot struct {
	Disk        *DiskSnapshot        `json:"disk,omitempty"`
	Network     *NetworkSnapshot     `json:"network,omitempty"`
	Temperature *TemperatureSnapshot `json:"temperature,omitempty"`
}

type DiskSnapshot struct {
	Path       string `json:"path"`
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
	AvailBytes uint64 `json:"avail_bytes"`
	LastError  string `json:"last_error,omitempty"`
}

type NetworkSnapshot struct {
	LocalAddrs []string `json:"local_addrs"`
}

func snapshotHost(now time.Time, diskPath string) HostSnapshot {
	if diskPath == "" {
		diskPath = "/"
	}
	return HostSnapshot{
		Disk:        snapshotDisk(now, diskPath),
		Network:     snapshotNetwork(now),
		Temperature: snapshotTemperature(thermalZonePath),
	}
}
