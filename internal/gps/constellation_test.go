package gps

import "testing"

func TestClassifyPRN_Boundaries(t *testing.T) {
	cases := []struct {
		prn  int
		want Constellation
		ok   bool
	}{
		{0, "", false},
		{1, ConstellationGPS, true},
		{32, ConstellationGPS, true},
		{33, "", false},
		{64, "", false},
		{65, ConstellationGLONASS, true},
		{96, ConstellationGLONASS, true},
		{97, "", false},
		{119, "", false},
		{120, ConstellationSBAS, true},
		{158, ConstellationSBAS, true},
		{193, ConstellationQZSS, true},
		{194, ConstellationQZSS, true},
		{195, "", false},
		{201, ConstellationBeiDou, true},
		{237, ConstellationBeiDou, true},
		{238, "", false},
		{301, ConstellationGalileo, true},
		{336, ConstellationGalileo, true},
		{337, "", false},
		{398, "", false},
		{399, "", false},
	}
	for _, tc := range cases {
		got, ok := ClassifyPRN(tc.prn)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ClassifyPRN(%d)=(%q,%v) want (%q,%v)", tc.prn, got, ok, tc.want, tc.ok)
		}
	}
}

func TestClassifyPRN_Deterministic(t *testing.T) {
	first, _ := ClassifyPRN(398)
	for i := 0; i < 50; i++ {
		if got, _ := ClassifyPRN(398); got != first {
			t.Fatalf("398 classified as %q then %q", first, got)
		}
	}
}

func TestConstellationName(t *testing.T) {
	if ConstellationGalileo.Name() != "Galileo" {
		t.Fatalf("GA name=%q", ConstellationGalileo.Name())
	}
	if Constellation("GB").Name() != "BeiDou" {
		t.Fatalf("GB name=%q", Constellation("GB").Name())
	}
	if Constellation("ZZ").Name() != "ZZ" {
		t.Fatalf("unknown talker should keep its code")
	}
}
