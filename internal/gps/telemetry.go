package gps

import (
	"strconv"
	"sync"
	"time"
)

// Telemetry is the latest merged position/quality view. Every field is
// latched independently: nil means "never reported", and a sentence that does
// not carry a field leaves it untouched.
//
// Pointees are never modified after publication, so copies may share them.
type Telemetry struct {
	LatDeg     *float64 `json:"lat_deg,omitempty"`
	LonDeg     *float64 `json:"lon_deg,omitempty"`
	AltM       *float64 `json:"alt_m,omitempty"`
	FixQuality *int     `json:"fix_quality,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`
	PDOP       *float64 `json:"pdop,omitempty"`
	VDOP       *float64 `json:"vdop,omitempty"`
	SpeedKnots *float64 `json:"speed_knots,omitempty"`
	CourseDeg  *float64 `json:"course_deg,omitempty"`

	UpdatedUTC string `json:"updated_utc,omitempty"`
}

// Position is the payload of a fix event.
type Position struct {
	Record FixRecord `json:"record"`
	LatDeg *float64  `json:"lat_deg,omitempty"`
	LonDeg *float64  `json:"lon_deg,omitempty"`
	AltM   *float64  `json:"alt_m,omitempty"`
}

// Aggregator owns the Telemetry snapshot.
type Aggregator struct {
	mu  sync.RWMutex
	cur Telemetry
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// ApplyFix latches position, altitude, fix quality, satellite count and HDOP
// from a GGA record. Malformed coordinates leave only that field untouched.
func (a *Aggregator) ApplyFix(now time.Time, rec FixRecord) (Telemetry, Position) {
	pos := Position{Record: rec, AltM: rec.AltitudeM}
	if v, ok := DecimalDegrees(rec.Lat, rec.LatDir); ok {
		pos.LatDeg = &v
	}
	if v, ok := DecimalDegrees(rec.Lon, rec.LonDir); ok {
		pos.LonDeg = &v
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if pos.LatDeg != nil {
		a.cur.LatDeg = pos.LatDeg
	}
	if pos.LonDeg != nil {
		a.cur.LonDeg = pos.LonDeg
	}
	if rec.AltitudeM != nil {
		a.cur.AltM = rec.AltitudeM
	}
	if q, err := strconv.Atoi(rec.FixQuality); err == nil {
		a.cur.FixQuality = &q
	}
	if rec.Satellites != nil {
		a.cur.Satellites = rec.Satellites
	}
	if rec.HDOP != nil {
		a.cur.HDOP = rec.HDOP
	}
	a.touchLocked(now)
	return a.cur, pos
}

// ApplyDop latches PDOP and VDOP. HDOP from GSA is ignored; GGA is the
// authoritative HDOP source.
func (a *Aggregator) ApplyDop(now time.Time, rec DopRecord) Telemetry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec.PDOP != nil {
		a.cur.PDOP = rec.PDOP
	}
	if rec.VDOP != nil {
		a.cur.VDOP = rec.VDOP
	}
	a.touchLocked(now)
	return a.cur
}

// ApplyRMC latches position, speed and course from an active RMC record.
func (a *Aggregator) ApplyRMC(now time.Time, rec RMCRecord) Telemetry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := DecimalDegrees(rec.Lat, rec.LatDir); ok {
		a.cur.LatDeg = &v
	}
	if v, ok := DecimalDegrees(rec.Lon, rec.LonDir); ok {
		a.cur.LonDeg = &v
	}
	if rec.SpeedKnots != nil {
		a.cur.SpeedKnots = rec.SpeedKnots
	}
	if rec.CourseDeg != nil {
		a.cur.CourseDeg = rec.CourseDeg
	}
	a.touchLocked(now)
	return a.cur
}

func (a *Aggregator) touchLocked(now time.Time) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	a.cur.UpdatedUTC = now.UTC().Format(time.RFC3339Nano)
}

func (a *Aggregator) Snapshot() Telemetry {
	if a == nil {
		return Telemetry{}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cur
}

// Reset clears every latched field.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.cur = Telemetry{}
	a.mu.Unlock()
}
