package gps

import (
	"reflect"
	"testing"
)

func mustGSV(t *testing.T, line string) GSVRecord {
	t.Helper()
	rec, ok := ParseGSV(line)
	if !ok {
		t.Fatalf("ParseGSV(%q) failed", line)
	}
	return rec
}

func satIDs(sats []Satellite) []string {
	out := make([]string, 0, len(sats))
	for _, s := range sats {
		out = append(out, s.ID)
	}
	return out
}

func TestReassembler_TwoParts(t *testing.T) {
	r := NewReassembler()
	p1 := mustGSV(t, "$GPGSV,2,1,06,01,40,083,46,02,17,308,41,12,07,344,39,14,22,228,45")
	p2 := mustGSV(t, "$GPGSV,2,2,06,15,10,100,30,17,20,200,31")

	if sats, ok := r.Add(p1); ok || sats != nil {
		t.Fatalf("part 1 of 2 must not emit, got %v", sats)
	}
	if got := r.Pending(); !reflect.DeepEqual(got, []string{"GP"}) {
		t.Fatalf("pending=%v", got)
	}
	sats, ok := r.Add(p2)
	if !ok {
		t.Fatalf("expected completed burst")
	}
	want := []string{"01", "02", "12", "14", "15", "17"}
	if got := satIDs(sats); !reflect.DeepEqual(got, want) {
		t.Fatalf("ids=%v want %v", got, want)
	}
	if len(r.Pending()) != 0 {
		t.Fatalf("talker should be reset after completion")
	}
}

func TestReassembler_OnlyFirstPartNeverEmits(t *testing.T) {
	r := NewReassembler()
	if _, ok := r.Add(mustGSV(t, "$GPGSV,2,1,06,01,40,083,46")); ok {
		t.Fatalf("unexpected emission")
	}
}

func TestReassembler_PartOneResetsStalePartial(t *testing.T) {
	r := NewReassembler()
	r.Add(mustGSV(t, "$GPGSV,2,1,06,01,40,083,46,02,17,308,41"))
	// Part 2 was lost; a new burst starts.
	r.Add(mustGSV(t, "$GPGSV,2,1,06,03,40,083,46"))
	sats, ok := r.Add(mustGSV(t, "$GPGSV,2,2,06,04,10,100,30"))
	if !ok {
		t.Fatalf("expected completed burst")
	}
	if got := satIDs(sats); !reflect.DeepEqual(got, []string{"03", "04"}) {
		t.Fatalf("ids=%v", got)
	}
}

func TestReassembler_GapDropsBurst(t *testing.T) {
	r := NewReassembler()
	r.Add(mustGSV(t, "$GPGSV,3,1,09,01,40,083,46"))
	if _, ok := r.Add(mustGSV(t, "$GPGSV,3,3,09,09,10,100,30")); ok {
		t.Fatalf("burst with a missing part must not emit")
	}
	if len(r.Pending()) != 0 {
		t.Fatalf("gap should drop the partial burst")
	}
}

func TestReassembler_TalkersIndependent(t *testing.T) {
	r := NewReassembler()
	r.Add(mustGSV(t, "$GPGSV,2,1,05,01,40,083,46"))
	sats, ok := r.Add(mustGSV(t, "$GLGSV,1,1,01,70,20,200,31"))
	if !ok || len(sats) != 1 || sats[0].Constellation != ConstellationGLONASS {
		t.Fatalf("GL burst: ok=%v sats=%v", ok, sats)
	}
	if got := r.Pending(); !reflect.DeepEqual(got, []string{"GP"}) {
		t.Fatalf("GP should still be pending, got %v", got)
	}
}

func TestReassembler_EmptyBurstCompletes(t *testing.T) {
	r := NewReassembler()
	sats, ok := r.Add(mustGSV(t, "$GPGSV,1,1,00"))
	if !ok || sats == nil || len(sats) != 0 {
		t.Fatalf("expected empty completed burst, ok=%v sats=%v", ok, sats)
	}
}

func TestReassembler_RejectsBadNumbering(t *testing.T) {
	r := NewReassembler()
	if _, ok := r.Add(GSVRecord{Talker: "GP", Total: 1, Number: 2}); ok {
		t.Fatalf("number > total must be rejected")
	}
	if _, ok := r.Add(GSVRecord{Talker: "GP", Total: 0, Number: 0}); ok {
		t.Fatalf("zero total must be rejected")
	}
}
