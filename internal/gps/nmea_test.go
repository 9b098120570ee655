package gps

import (
	"fmt"
	"math"
	"reflect"
	"testing"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

func TestClassify(t *testing.T) {
	cases := map[string]SentenceType{
		"$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,,,,": SentenceGGA,
		"$GNGSA,A,3,01,02,,,,,,,,,,,1.8,1.0,1.5":                   SentenceGSA,
		"$BDGSV,1,1,01,201,45,120,40*00":                           SentenceGSV,
		"$GARMC,123519,A,4807.038,N,01131.000,E":                   SentenceRMC,
		"$GPGST,123519,1,2,3":                                      SentenceUnknown,
		"GPGGA,123519":                                             SentenceUnknown,
		"$command,MODE BASE,OK":                                    SentenceUnknown,
		"":                                                         SentenceUnknown,
	}
	for line, want := range cases {
		if got := Classify(line); got != want {
			t.Fatalf("Classify(%q)=%v want %v", line, got, want)
		}
	}
}

func TestValidChecksum(t *testing.T) {
	good := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	if !ValidChecksum(good) {
		t.Fatalf("expected valid checksum for %q", good)
	}
	bad := good[:len(good)-2] + "00"
	if ValidChecksum(bad) {
		t.Fatalf("expected mismatch for %q", bad)
	}
	if ValidChecksum("$GPRMC,123519,A") {
		t.Fatalf("expected missing checksum to be invalid")
	}
	if HasChecksum("$GPRMC,123519,A") || !HasChecksum(bad) {
		t.Fatalf("HasChecksum mismatch")
	}
}

func TestParseGGA_Example(t *testing.T) {
	line := "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,,,,"
	rec, ok := ParseGGA(line)
	if !ok {
		t.Fatalf("expected record")
	}
	if rec.Talker != "GP" || rec.Lat != "4807.038" || rec.LatDir != "N" {
		t.Fatalf("unexpected lat fields: %+v", rec)
	}
	if rec.Lon != "01131.000" || rec.LonDir != "E" {
		t.Fatalf("unexpected lon fields: %+v", rec)
	}
	if rec.FixQuality != "1" {
		t.Fatalf("fix quality=%q", rec.FixQuality)
	}
	if rec.Satellites == nil || *rec.Satellites != 8 {
		t.Fatalf("satellites=%v", rec.Satellites)
	}
	if rec.HDOP == nil || *rec.HDOP != 0.9 {
		t.Fatalf("hdop=%v", rec.HDOP)
	}
	if rec.AltitudeM == nil || *rec.AltitudeM != 545.4 {
		t.Fatalf("altitude=%v", rec.AltitudeM)
	}

	again, _ := ParseGGA(line)
	if !reflect.DeepEqual(rec, again) {
		t.Fatalf("parse not idempotent: %+v vs %+v", rec, again)
	}
}

func TestParseGGA_TooFewFields(t *testing.T) {
	if _, ok := ParseGGA("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9"); ok {
		t.Fatalf("expected no record for 9 fields")
	}
}

func TestParseGGA_BadNumericFieldIsAbsent(t *testing.T) {
	rec, ok := ParseGGA("$GPGGA,123519,4807.038,N,01131.000,E,1,x8,0.9,abc,M,,,,")
	if !ok {
		t.Fatalf("expected record")
	}
	if rec.Satellites != nil {
		t.Fatalf("expected absent satellite count, got %v", *rec.Satellites)
	}
	if rec.AltitudeM != nil {
		t.Fatalf("expected absent altitude, got %v", *rec.AltitudeM)
	}
	if rec.HDOP == nil || *rec.HDOP != 0.9 {
		t.Fatalf("hdop should survive: %v", rec.HDOP)
	}
}

func TestParseGSA(t *testing.T) {
	line := nmeaLine("GNGSA,A,3,01,02,03,04,05,06,,,,,,,1.8,1.0,1.5")
	rec, ok := ParseGSA(line)
	if !ok {
		t.Fatalf("expected record")
	}
	if rec.Mode != "A" || rec.FixType != 3 {
		t.Fatalf("unexpected mode/fix: %+v", rec)
	}
	if rec.PDOP == nil || *rec.PDOP != 1.8 {
		t.Fatalf("pdop=%v", rec.PDOP)
	}
	if rec.HDOP == nil || *rec.HDOP != 1.0 {
		t.Fatalf("hdop=%v", rec.HDOP)
	}
	if rec.VDOP == nil || *rec.VDOP != 1.5 {
		t.Fatalf("vdop (checksum stripped)=%v", rec.VDOP)
	}
}

func TestParseGSA_NoFixGate(t *testing.T) {
	if _, ok := ParseGSA("$GNGSA,A,0,01,02,03,04,05,06,07,08,09,10,11,12,1.8,1.0,1.5,1"); ok {
		t.Fatalf("fix type 0 must yield no record")
	}
	if _, ok := ParseGSA("$GNGSA,A,3,01,02,1.8,1.0,1.5"); ok {
		t.Fatalf("short GSA must yield no record")
	}
}

func TestParseRMC(t *testing.T) {
	rec, ok := ParseRMC(nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	if !ok {
		t.Fatalf("expected record")
	}
	if rec.Lat != "4807.038" || rec.LonDir != "E" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.SpeedKnots == nil || *rec.SpeedKnots != 22.4 {
		t.Fatalf("speed=%v", rec.SpeedKnots)
	}
	if rec.CourseDeg == nil || *rec.CourseDeg != 84.4 {
		t.Fatalf("course=%v", rec.CourseDeg)
	}

	if _, ok := ParseRMC("$GPRMC,123519,V,,,,,,,230394,,,N"); ok {
		t.Fatalf("void RMC must yield no record")
	}

	// Minimum field count, no speed or course.
	rec, ok = ParseRMC("$GPRMC,123519,A,4807.038,N,01131.000,E")
	if !ok || rec.SpeedKnots != nil || rec.CourseDeg != nil {
		t.Fatalf("unexpected minimal record ok=%v rec=%+v", ok, rec)
	}
}

func TestParseGSV_Blocks(t *testing.T) {
	line := nmeaLine("GPGSV,2,1,07,01,40,083,46,02,17,308,,12,07,344,3x,14,22,228,45")
	rec, ok := ParseGSV(line)
	if !ok {
		t.Fatalf("expected record")
	}
	if rec.Talker != "GP" || rec.Total != 2 || rec.Number != 1 || rec.InView != 7 {
		t.Fatalf("unexpected header: %+v", rec)
	}
	if len(rec.Satellites) != 4 {
		t.Fatalf("expected 4 satellites, got %d", len(rec.Satellites))
	}
	first := rec.Satellites[0]
	if first.ID != "01" || first.Constellation != ConstellationGPS {
		t.Fatalf("unexpected first satellite: %+v", first)
	}
	if first.ElevationDeg == nil || *first.ElevationDeg != 40 || first.AzimuthDeg == nil || *first.AzimuthDeg != 83 {
		t.Fatalf("unexpected geometry: %+v", first)
	}
	if first.SNR == nil || *first.SNR != 46 {
		t.Fatalf("snr=%v", first.SNR)
	}
	if rec.Satellites[1].SNR != nil {
		t.Fatalf("empty snr must be absent")
	}
	if rec.Satellites[2].SNR != nil {
		t.Fatalf("non-digit snr must be absent")
	}
	// Last block carries the checksum suffix.
	if last := rec.Satellites[3]; last.SNR == nil || *last.SNR != 45 {
		t.Fatalf("last snr=%v", last.SNR)
	}
}

func TestParseGSV_MixedTalkerClassifies(t *testing.T) {
	rec, ok := ParseGSV("$GNGSV,1,1,04,05,10,100,30,70,20,200,31,210,30,300,32,399,40,050,33")
	if !ok {
		t.Fatalf("expected record")
	}
	want := []Constellation{ConstellationGPS, ConstellationGLONASS, ConstellationBeiDou, ConstellationMixed}
	for i, sat := range rec.Satellites {
		if sat.Constellation != want[i] {
			t.Fatalf("sat %s constellation=%s want %s", sat.ID, sat.Constellation, want[i])
		}
	}
}

func TestParseGSV_TalkerTrustedForSingleSystem(t *testing.T) {
	rec, ok := ParseGSV("$GLGSV,1,1,01,05,10,100,30")
	if !ok || len(rec.Satellites) != 1 {
		t.Fatalf("unexpected ok=%v rec=%+v", ok, rec)
	}
	if rec.Satellites[0].Constellation != ConstellationGLONASS {
		t.Fatalf("talker should win, got %s", rec.Satellites[0].Constellation)
	}
}

func TestParseGSV_OutOfRangeGeometryIsAbsent(t *testing.T) {
	rec, ok := ParseGSV("$GPGSV,1,1,01,05,95,400,30")
	if !ok || len(rec.Satellites) != 1 {
		t.Fatalf("unexpected ok=%v rec=%+v", ok, rec)
	}
	if rec.Satellites[0].ElevationDeg != nil || rec.Satellites[0].AzimuthDeg != nil {
		t.Fatalf("expected absent geometry: %+v", rec.Satellites[0])
	}
}

func TestParseGSV_EmptyBurst(t *testing.T) {
	rec, ok := ParseGSV("$GPGSV,1,1,00*79")
	if !ok {
		t.Fatalf("expected header-only GSV to parse")
	}
	if len(rec.Satellites) != 0 {
		t.Fatalf("expected no satellites, got %d", len(rec.Satellites))
	}
	if _, ok := ParseGSV("$GPGSV,x,1,00"); ok {
		t.Fatalf("garbled header must not parse")
	}
}

func TestDecimalDegrees(t *testing.T) {
	v, ok := DecimalDegrees("4807.038", "N")
	if !ok || math.Abs(v-(48+7.038/60)) > 1e-9 {
		t.Fatalf("lat=%v ok=%v", v, ok)
	}
	v, ok = DecimalDegrees("4807.038", "S")
	if !ok || math.Abs(v+(48+7.038/60)) > 1e-9 {
		t.Fatalf("south lat=%v ok=%v", v, ok)
	}
	v, ok = DecimalDegrees("01131.000", "W")
	if !ok || math.Abs(v+(11+31.0/60)) > 1e-9 {
		t.Fatalf("west lon=%v ok=%v", v, ok)
	}
	for _, tc := range []struct{ v, hemi string }{
		{"", "N"},
		{"48", "N"},
		{"4807.038", ""},
		{"4807.038", "X"},
		{"48x7.038", "N"},
		{"4867.000", "N"},
	} {
		if _, ok := DecimalDegrees(tc.v, tc.hemi); ok {
			t.Fatalf("expected %q/%q to be rejected", tc.v, tc.hemi)
		}
	}
}
