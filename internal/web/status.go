package web

import (
	"sync/atomic"
	"time"

	"fingerviz/internal/ingest"
)

type Status struct {
	startUnixNano int64
	configPath    atomic.Value // string
	wsClients     atomic.Int64
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.configPath.Store("")
	return s
}

func (s *Status) SetConfigPath(p string) {
	s.configPath.Store(p)
}

func (s *Status) wsOpened() { s.wsClients.Add(1) }
func (s *Status) wsClosed() { s.wsClients.Add(-1) }

type StatusSnapshot struct {
	Service    string          `json:"service"`
	NowUTC     string          `json:"now_utc"`
	UptimeSec  int64           `json:"uptime_sec"`
	ConfigPath string          `json:"config_path,omitempty"`
	WSClients  int64           `json:"ws_clients"`
	Ingest     ingest.Snapshot `json:"ingest"`
	Outputs    map[string]any  `json:"outputs,omitempty"`
	System     *SystemSnapshot `json:"system,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time, live Live) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:    "fingerviz",
		NowUTC:     nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:  int64(nowUTC.Sub(start).Seconds()),
		ConfigPath: s.configPath.Load().(string),
		WSClients:  s.wsClients.Load(),
	}
	if live != nil {
		if svc := live.Ingest(); svc != nil {
			snap.Ingest = svc.Snapshot()
		} else {
			snap.Ingest = ingest.Snapshot{State: ingest.StateStopped, Status: "No source"}
		}
		snap.Outputs = live.Outputs()
	}
	snap.System = snapshotSystem(snap.Ingest.Recording)
	return snap
}
