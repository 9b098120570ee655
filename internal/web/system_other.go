//go:build !linux

package web

import "time"

func snapshotDisk(_ time.Time, path string) *DiskSnapshot {
	return &DiskSnapshot{Path: path, LastError: "not supported on this platform"}
}

func snapshotNetwork(_ time.Time) *NetworkSnapshot {
	return &NetworkSnapshot{}
}
