package gps

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// DefaultSatelliteTTL drops satellites that have not been reported for this long.
const DefaultSatelliteTTL = 5 * time.Second

// Satellite is one observation from a GSV burst.
type Satellite struct {
	Constellation Constellation `json:"constellation"`
	ID            string        `json:"id"`
	ElevationDeg  *float64      `json:"elevation_deg,omitempty"`
	AzimuthDeg    *float64      `json:"azimuth_deg,omitempty"`
	SNR           *int          `json:"snr,omitempty"`
	LastSeen      time.Time     `json:"last_seen"`
}

type SatelliteKey struct {
	Constellation Constellation
	ID            string
}

// SatelliteStore keeps the last-seen satellites. One writer merges bursts,
// any number of readers take copies.
type SatelliteStore struct {
	mu sync.RWMutex

	ttl  time.Duration
	sats map[SatelliteKey]Satellite
}

func NewSatelliteStore(ttl time.Duration) *SatelliteStore {
	if ttl <= 0 {
		ttl = DefaultSatelliteTTL
	}
	return &SatelliteStore{ttl: ttl, sats: make(map[SatelliteKey]Satellite)}
}

func (s *SatelliteStore) TTL() time.Duration {
	if s == nil {
		return 0
	}
	return s.ttl
}

// Merge overwrites every satellite of a completed burst with LastSeen=now and
// then prunes stale entries, all under one lock so readers never see half a
// burst. Satellites without a constellation are filed under talker.
func (s *SatelliteStore) Merge(talker string, sats []Satellite, now time.Time) {
	if s == nil {
		return
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sat := range sats {
		if sat.Constellation == "" {
			sat.Constellation = Constellation(talker)
		}
		sat.LastSeen = now
		s.sats[SatelliteKey{Constellation: sat.Constellation, ID: sat.ID}] = sat
	}
	s.pruneLocked(now, s.ttl)
}

// Prune removes entries with now-LastSeen >= ttl and returns how many went.
func (s *SatelliteStore) Prune(now time.Time, ttl time.Duration) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(now, ttl)
}

func (s *SatelliteStore) pruneLocked(now time.Time, ttl time.Duration) int {
	n := 0
	for k, v := range s.sats {
		if now.Sub(v.LastSeen) >= ttl {
			delete(s.sats, k)
			n++
		}
	}
	return n
}

// Clear drops every satellite.
func (s *SatelliteStore) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.sats = make(map[SatelliteKey]Satellite)
	s.mu.Unlock()
}

func (s *SatelliteStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sats)
}

// Snapshot returns a sorted copy of every tracked satellite.
func (s *SatelliteStore) Snapshot() []Satellite {
	return s.SnapshotFor("")
}

// SnapshotFor returns a sorted copy limited to one constellation; an empty
// constellation means all of them.
func (s *SatelliteStore) SnapshotFor(c Constellation) []Satellite {
	return s.snapshot(c, time.Time{})
}

// SnapshotAt is SnapshotFor without the entries that a prune at now would
// remove. The store itself is left as is.
func (s *SatelliteStore) SnapshotAt(c Constellation, now time.Time) []Satellite {
	if now.IsZero() {
		return s.SnapshotFor(c)
	}
	return s.snapshot(c, now)
}

func (s *SatelliteStore) snapshot(c Constellation, now time.Time) []Satellite {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	out := make([]Satellite, 0, len(s.sats))
	for k, v := range s.sats {
		if c != "" && k.Constellation != c {
			continue
		}
		if !now.IsZero() && now.Sub(v.LastSeen) >= s.ttl {
			continue
		}
		out = append(out, v)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Constellation != out[j].Constellation {
			return out[i].Constellation < out[j].Constellation
		}
		ni, ei := strconv.Atoi(out[i].ID)
		nj, ej := strconv.Atoi(out[j].ID)
		if ei == nil && ej == nil {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SignalBar is one satellite's SNR as shown in a signal chart.
type SignalBar struct {
	Constellation Constellation `json:"constellation"`
	ID            string        `json:"id"`
	SNR           int           `json:"snr"`
}

// SignalSummary describes received signal strength, strongest first.
type SignalSummary struct {
	Constellation Constellation `json:"constellation,omitempty"`
	Count         int           `json:"count"`
	AvgSNR        float64       `json:"avg_snr"`
	Top4SNR       float64       `json:"top4_snr"`
	Bars          []SignalBar   `json:"bars"`
}

// Signal summarises satellites with a numeric id and a reported SNR.
func (s *SatelliteStore) Signal(c Constellation) SignalSummary {
	return SummarizeSignal(c, s.SnapshotFor(c))
}

func SummarizeSignal(c Constellation, sats []Satellite) SignalSummary {
	out := SignalSummary{Constellation: c, Bars: []SignalBar{}}
	for _, sat := range sats {
		if sat.SNR == nil {
			continue
		}
		if _, ok := numericID(sat.ID); !ok {
			continue
		}
		out.Bars = append(out.Bars, SignalBar{Constellation: sat.Constellation, ID: sat.ID, SNR: *sat.SNR})
	}
	sort.SliceStable(out.Bars, func(i, j int) bool { return out.Bars[i].SNR > out.Bars[j].SNR })

	out.Count = len(out.Bars)
	if out.Count == 0 {
		return out
	}
	sum, top := 0, 0
	for i, b := range out.Bars {
		sum += b.SNR
		if i < 4 {
			top += b.SNR
		}
	}
	out.AvgSNR = float64(sum) / float64(out.Count)
	topN := out.Count
	if topN > 4 {
		topN = 4
	}
	out.Top4SNR = float64(top) / float64(topN)
	return out
}
