package gps

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gnssmon/internal/events"
)

// Publisher receives pipeline notifications. *events.Hub satisfies it.
type Publisher interface {
	Publish(ev events.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

// Stats counts what the pipeline has seen since it was created.
type Stats struct {
	Lines       uint64 `json:"lines"`
	GGA         uint64 `json:"gga"`
	GSA         uint64 `json:"gsa"`
	GSV         uint64 `json:"gsv"`
	RMC         uint64 `json:"rmc"`
	Bursts      uint64 `json:"bursts"`
	Ignored     uint64 `json:"ignored"`
	Malformed   uint64 `json:"malformed"`
	BadChecksum uint64 `json:"bad_checksum"`

	LastLineUTC string `json:"last_line_utc,omitempty"`
}

// Pipeline turns raw lines into satellite and telemetry state. HandleLine may
// be called from more than one goroutine (the ingestion loop and the command
// driver's passthrough); calls are serialised so there is a single writer.
type Pipeline struct {
	mu sync.Mutex

	strict atomic.Bool
	pub    Publisher

	agg  *Aggregator
	sats *SatelliteStore
	gsv  *Reassembler

	stats Stats
}

func NewPipeline(pub Publisher, ttl time.Duration, strictChecksum bool) *Pipeline {
	if pub == nil {
		pub = nopPublisher{}
	}
	p := &Pipeline{
		pub:  pub,
		agg:  NewAggregator(),
		sats: NewSatelliteStore(ttl),
		gsv:  NewReassembler(),
	}
	p.strict.Store(strictChecksum)
	return p
}

// SetStrictChecksum switches checksum policy for subsequent lines.
func (p *Pipeline) SetStrictChecksum(strict bool) { p.strict.Store(strict) }

func (p *Pipeline) Aggregator() *Aggregator { return p.agg }

func (p *Pipeline) Satellites() *SatelliteStore { return p.sats }

// HandleLine processes one raw line. It reports whether the line was a
// recognised sentence that yielded a record.
func (p *Pipeline) HandleLine(now time.Time, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Lines++
	p.stats.LastLineUTC = now.UTC().Format(time.RFC3339Nano)
	p.pub.Publish(events.Event{Kind: events.KindLine, Time: now, Line: line})

	t := Classify(line)
	if t == SentenceUnknown {
		p.stats.Ignored++
		return false
	}
	if p.strict.Load() && HasChecksum(line) && !ValidChecksum(line) {
		p.stats.BadChecksum++
		return false
	}

	switch t {
	case SentenceGGA:
		rec, ok := ParseGGA(line)
		if !ok {
			p.stats.Malformed++
			return false
		}
		p.stats.GGA++
		snap, pos := p.agg.ApplyFix(now, rec)
		p.pub.Publish(events.Event{Kind: events.KindFix, Time: now, Payload: pos})
		p.pub.Publish(events.Event{Kind: events.KindTelemetry, Time: now, Payload: snap})
	case SentenceGSA:
		rec, ok := ParseGSA(line)
		if !ok {
			p.stats.Malformed++
			return false
		}
		p.stats.GSA++
		snap := p.agg.ApplyDop(now, rec)
		p.pub.Publish(events.Event{Kind: events.KindDop, Time: now, Payload: rec})
		p.pub.Publish(events.Event{Kind: events.KindTelemetry, Time: now, Payload: snap})
	case SentenceRMC:
		rec, ok := ParseRMC(line)
		if !ok {
			// Status V is the normal no-fix state, not malformed input.
			return false
		}
		p.stats.RMC++
		snap := p.agg.ApplyRMC(now, rec)
		p.pub.Publish(events.Event{Kind: events.KindTelemetry, Time: now, Payload: snap})
	case SentenceGSV:
		rec, ok := ParseGSV(line)
		if !ok {
			p.stats.Malformed++
			return false
		}
		p.stats.GSV++
		if sats, done := p.gsv.Add(rec); done {
			p.stats.Bursts++
			p.sats.Merge(rec.Talker, sats, now)
		}
	}
	return true
}

// PendingBursts lists talkers with an unfinished GSV burst.
func (p *Pipeline) PendingBursts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gsv.Pending()
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Reset forgets telemetry, satellites and partial bursts, e.g. after the
// receiver was swapped.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agg.Reset()
	p.sats.Clear()
	p.gsv = NewReassembler()
}
