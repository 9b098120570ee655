//go:build linux

package web

import (
	"net"
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

func snapshotDisk(_ time.Time, path string) *DiskSnapshot {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return &DiskSnapshot{Path: path, LastError: err.Error()}
	}

	bsize := uint64(st.Bsize)
	return &DiskSnapshot{
		Path:       path,
		TotalBytes: st.Blocks * bsize,
		FreeBytes:  st.Bfree * bsize,
		AvailBytes: st.Bavail * bsize,
	}
}

func snapshotNetwork(_ time.Time) *NetworkSnapshot {
	return &NetworkSnapshot{LocalAddrs: localInterfaceAddrs()}
}

// localInterfaceAddrs lists "iface: cidr" for every up, non-loopback IPv4
// address, sorted.
func localInterfaceAddrs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
				continue
			}
			out = append(out, iface.Name+": "+ipnet.String())
		}
	}

	sort.Strings(out)
	return out
}
