// Package influx writes telemetry and signal-strength time series to
// InfluxDB 2.x.
package influx

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"gnssmon/internal/events"
	"gnssmon/internal/gps"
)

// Writer is satisfied by api.WriteAPIBlocking.
type Writer interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type Config struct {
	// Interval paces telemetry points. Snapshots arriving in between are
	// coalesced; only the newest is written.
	Interval time.Duration

	// Receiver tags every point, so several receivers can share a bucket.
	Receiver string

	Clock clock.Clock
}

// NewClient connects a blocking write API. Close the client on shutdown.
func NewClient(url, token, org, bucket string) (influxdb2.Client, api.WriteAPIBlocking) {
	client := influxdb2.NewClient(url, token)
	return client, client.WriteAPIBlocking(org, bucket)
}

type Sink struct {
	cfg Config
	clk clock.Clock
	w   Writer

	mu      sync.Mutex
	pending *gps.Telemetry
	pendAt  time.Time

	written atomic.Uint64
	failed  atomic.Uint64
}

func New(w Writer, cfg Config) *Sink {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Sink{cfg: cfg, clk: cfg.Clock, w: w}
}

func (s *Sink) tags() map[string]string {
	if s.cfg.Receiver == "" {
		return map[string]string{}
	}
	return map[string]string{"receiver": s.cfg.Receiver}
}

// TelemetryPoint converts a snapshot to a "telemetry" point. Fields that were
// never reported are left out; nil means nothing to write.
func TelemetryPoint(ts time.Time, t gps.Telemetry, tags map[string]string) *write.Point {
	fields := make(map[string]interface{})
	addFloat := func(k string, v *float64) {
		if v != nil {
			fields[k] = *v
		}
	}
	addInt := func(k string, v *int) {
		if v != nil {
			fields[k] = *v
		}
	}
	addFloat("lat_deg", t.LatDeg)
	addFloat("lon_deg", t.LonDeg)
	addFloat("alt_m", t.AltM)
	addInt("fix_quality", t.FixQuality)
	addInt("satellites", t.Satellites)
	addFloat("hdop", t.HDOP)
	addFloat("pdop", t.PDOP)
	addFloat("vdop", t.VDOP)
	addFloat("speed_knots", t.SpeedKnots)
	addFloat("course_deg", t.CourseDeg)
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint("telemetry", tags, fields, ts)
}

// SignalPoints summarises satellites per constellation into "signal"
// points, ordered by constellation.
func SignalPoints(ts time.Time, sats []gps.Satellite, tags map[string]string) []*write.Point {
	byConst := make(map[gps.Constellation][]gps.Satellite)
	for _, sat := range sats {
		byConst[sat.Constellation] = append(byConst[sat.Constellation], sat)
	}
	keys := make([]string, 0, len(byConst))
	for c := range byConst {
		keys = append(keys, string(c))
	}
	sort.Strings(keys)

	out := make([]*write.Point, 0, len(keys))
	for _, k := range keys {
		c := gps.Constellation(k)
		sum := gps.SummarizeSignal(c, byConst[c])
		t := make(map[string]string, len(tags)+1)
		for tk, tv := range tags {
			t[tk] = tv
		}
		t["constellation"] = c.Name()
		out = append(out, write.NewPoint("signal", t, map[string]interface{}{
			"in_view":  len(byConst[c]),
			"count":    sum.Count,
			"avg_snr":  sum.AvgSNR,
			"top4_snr": sum.Top4SNR,
		}, ts))
	}
	return out
}

func (s *Sink) write(ctx context.Context, points ...*write.Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.w.WritePoint(ctx, points...); err != nil {
		s.failed.Add(uint64(len(points)))
		return err
	}
	s.written.Add(uint64(len(points)))
	return nil
}

// Handle takes one event. Telemetry is held until the next Flush; satellite
// summaries are written immediately since they already arrive paced.
func (s *Sink) Handle(ctx context.Context, ev events.Event) error {
	switch ev.Kind {
	case events.KindTelemetry:
		t, ok := ev.Payload.(gps.Telemetry)
		if !ok {
			return nil
		}
		s.mu.Lock()
		s.pending = &t
		s.pendAt = ev.Time
		s.mu.Unlock()
		return nil
	case events.KindSatellites:
		sats, ok := ev.Payload.([]gps.Satellite)
		if !ok {
			return nil
		}
		return s.write(ctx, SignalPoints(ev.Time, sats, s.tags())...)
	default:
		return nil
	}
}

// Flush writes the newest pending telemetry snapshot, if any.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	t, at := s.pending, s.pendAt
	s.pending = nil
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	if at.IsZero() {
		at = s.clk.Now().UTC()
	}
	p := TelemetryPoint(at, *t, s.tags())
	if p == nil {
		return nil
	}
	return s.write(ctx, p)
}

// Run consumes hub events and flushes telemetry every interval until ctx is
// done.
func (s *Sink) Run(ctx context.Context, sub events.Subscriber) error {
	log.Printf("influx sink started interval=%s", s.cfg.Interval)
	id, ch := sub.Subscribe(256)
	defer sub.Unsubscribe(id)

	ticker := s.clk.Ticker(s.cfg.Interval)
	defer ticker.Stop()

	var lastErr string
	report := func(err error) {
		if err == nil {
			lastErr = ""
			return
		}
		if err.Error() != lastErr {
			log.Printf("influx write failed err=%v", err)
			lastErr = err.Error()
		}
	}

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			report(s.Flush(flushCtx))
			cancel()
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			report(s.Handle(ctx, ev))
		case <-ticker.C:
			report(s.Flush(ctx))
		}
	}
}

// Counts returns points written and points that failed to write.
func (s *Sink) Counts() (written, failed uint64) {
	return s.written.Load(), s.failed.Load()
}
