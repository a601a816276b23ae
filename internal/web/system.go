package web

import (
	"net"
	"path/filepath"
	"sort"
)

// SystemSnapshot helps locate the UI on the network and shows the space left
// for recordings.
type SystemSnapshot struct {
	LocalAddrs []string      `json:"local_addrs,omitempty"`
	Disk       *DiskSnapshot `json:"disk,omitempty"`
}

type DiskSnapshot struct {
	Path       string `json:"path"`
	TotalBytes uint64 `json:"total_bytes,omitempty"`
	FreeBytes  uint64 `json:"free_bytes,omitempty"`
	AvailBytes uint64 `json:"avail_bytes,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// snapshotSystem reports disk usage for the filesystem holding recordPath
// (or the working directory when not recording).
func snapshotSystem(recordPath string) *SystemSnapshot {
	dir := "."
	if recordPath != "" {
		dir = filepath.Dir(recordPath)
	}
	return &SystemSnapshot{
		LocalAddrs: localInterfaceAddrs(),
		Disk:       snapshotDisk(dir),
	}
}

func localInterfaceAddrs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	out := make([]string, 0, 8)
	for _, iface := range ifaces {
		if (iface.Flags & net.FlagUp) == 0 {
			continue
		}
		if (iface.Flags & net.FlagLoopback) != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var ip net.IP
			var ipnet *net.IPNet
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
				ipnet = v
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil {
				continue
			}
			ip4 := ip.To4()
			if ip4 == nil {
				continue
			}
			if ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
				continue
			}
			if ipnet != nil {
				out = append(out, iface.Name+": "+ipnet.String())
			} else {
				out = append(out, iface.Name+": "+ip4.String())
			}
		}
	}

	sort.Strings(out)
	return out
}
