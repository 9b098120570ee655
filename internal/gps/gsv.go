package gps

import "sort"

// Reassembler collects the numbered parts of GSV bursts per talker.
//
// It is not safe for concurrent use; the ingestion pipeline owns it.
type Reassembler struct {
	bursts map[string]*gsvBurst
}

type gsvBurst struct {
	total  int
	last   int
	inView int
	sats   []Satellite
}

func NewReassembler() *Reassembler {
	return &Reassembler{bursts: make(map[string]*gsvBurst)}
}

// Add appends one part. When the part completes its burst, the full satellite
// list (in arrival order) is returned with ok=true and the talker is reset.
//
// A part 1 always starts a fresh burst, discarding any unfinished one. A part
// that does not follow the previous one drops the burst until the next part 1.
func (r *Reassembler) Add(rec GSVRecord) (sats []Satellite, ok bool) {
	if rec.Total < 1 || rec.Number < 1 || rec.Number > rec.Total {
		return nil, false
	}

	b := r.bursts[rec.Talker]
	if rec.Number == 1 {
		b = &gsvBurst{total: rec.Total, inView: rec.InView}
		r.bursts[rec.Talker] = b
	} else if b == nil || b.total != rec.Total || rec.Number != b.last+1 {
		delete(r.bursts, rec.Talker)
		return nil, false
	}

	b.sats = append(b.sats, rec.Satellites...)
	b.last = rec.Number
	if rec.Number < rec.Total {
		return nil, false
	}

	delete(r.bursts, rec.Talker)
	if b.sats == nil {
		b.sats = []Satellite{}
	}
	return b.sats, true
}

// Pending lists talkers with an unfinished burst.
func (r *Reassembler) Pending() []string {
	out := make([]string, 0, len(r.bursts))
	for k := range r.bursts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
