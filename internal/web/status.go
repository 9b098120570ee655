package web

import (
	"sync/atomic"
	"time"

	"gnssmon/internal/command"
	"gnssmon/internal/gps"
)

// Status tracks process-level facts the services do not own: uptime and the
// state of the receiver link as seen by the reconnect loop.
type Status struct {
	startUnixNano   int64
	connects        uint64
	lastConnectNano int64
	connected       atomic.Bool
	address         atomic.Value // string
	baud            atomic.Int64
	lastError       atomic.Value // string
	sinks           atomic.Value // []string
	diskPath        atomic.Value // string
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.address.Store("")
	s.lastError.Store("")
	s.sinks.Store([]string(nil))
	s.diskPath.Store("/")
	return s
}

func (s *Status) Started() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
}

// SetDiskPath selects the filesystem reported under host.disk, normally the
// directory of the record database.
func (s *Status) SetDiskPath(path string) {
	if path != "" {
		s.diskPath.Store(path)
	}
}

// SetSinks records which optional consumers (mqtt, record, ...) are running.
func (s *Status) SetSinks(names []string) {
	s.sinks.Store(append([]string(nil), names...))
}

// MarkConnected records a successful open of the receiver link.
func (s *Status) MarkConnected(nowUTC time.Time, address string, baud int) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	s.address.Store(address)
	s.baud.Store(int64(baud))
	s.lastError.Store("")
	s.connected.Store(true)
	atomic.AddUint64(&s.connects, 1)
	atomic.StoreInt64(&s.lastConnectNano, nowUTC.UnixNano())
}

// MarkDisconnected records that the link was lost or could not be opened.
func (s *Status) MarkDisconnected(err error) {
	s.connected.Store(false)
	if err != nil {
		s.lastError.Store(err.Error())
	}
}

type LinkSnapshot struct {
	Address        string `json:"address"`
	Baud           int    `json:"baud,omitempty"`
	Connected      bool   `json:"connected"`
	Connects       uint64 `json:"connects"`
	LastConnectUTC string `json:"last_connect_utc,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

type StatusSnapshot struct {
	Service   string          `json:"service"`
	NowUTC    string          `json:"now_utc"`
	UptimeSec int64           `json:"uptime_sec"`
	Link      LinkSnapshot    `json:"link"`
	Sinks     []string        `json:"sinks,omitempty"`
	Host      HostSnapshot    `json:"host"`
	GPS       *gps.Status     `json:"gps,omitempty"`
	Command   *command.Status `json:"command,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := s.Started()
	lastConnect := atomic.LoadInt64(&s.lastConnectNano)

	snap := StatusSnapshot{
		Service:   "gnssmon",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Link: LinkSnapshot{
			Address:   s.address.Load().(string),
			Baud:      int(s.baud.Load()),
			Connected: s.connected.Load(),
			Connects:  atomic.LoadUint64(&s.connects),
			LastError: s.lastError.Load().(string),
		},
		Sinks: s.sinks.Load().([]string),
		Host:  snapshotHost(nowUTC, s.diskPath.Load().(string)),
	}
	if lastConnect != 0 {
		snap.Link.LastConnectUTC = time.Unix(0, lastConnect).UTC().Format(time.RFC3339Nano)
	}
	return snap
}
