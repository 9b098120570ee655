package command

import (
	"reflect"
	"testing"
)

func TestCatalog_DefaultsAndOverrides(t *testing.T) {
	c := NewCatalog(map[string][]string{
		"Save":  {"saveconfig", " "},
		"rover": {"MODE ROVER", "saveconfig"},
		"rtcm":  nil,
		"  ":    {"ignored"},
	})
	if got := c.Names(); !reflect.DeepEqual(got, []string{"nmea", "rover", "save"}) {
		t.Fatalf("names=%v", got)
	}
	nmea, ok := c.Commands("NMEA")
	if !ok || len(nmea) != 5 || nmea[0] != "GPGGA 1" {
		t.Fatalf("nmea=%v ok=%v", nmea, ok)
	}
	save, _ := c.Commands("save")
	if !reflect.DeepEqual(save, []string{"saveconfig"}) {
		t.Fatalf("save=%v", save)
	}
	if _, ok := c.Commands("rtcm"); ok {
		t.Fatalf("empty override should remove the preset")
	}

	nmea[0] = "mutated"
	again, _ := c.Commands("nmea")
	if again[0] != "GPGGA 1" {
		t.Fatalf("Commands must return a copy")
	}
	if DefaultPresets["nmea"][0] != "GPGGA 1" {
		t.Fatalf("defaults must not be modified")
	}
}

func TestModeBase(t *testing.T) {
	cmd, err := ModeBase(1.0, 2.5, 3, NoBaseID)
	if err != nil || cmd != "MODE BASE 1 2.5 3" {
		t.Fatalf("cmd=%q err=%v", cmd, err)
	}
	cmd, err = ModeBase(-33.8688, 151.2093, 58.2, 17)
	if err != nil || cmd != "MODE BASE -33.8688 151.2093 58.2 17" {
		t.Fatalf("cmd=%q err=%v", cmd, err)
	}
	for _, tc := range []struct {
		lat, lon, alt float64
		id            int
	}{
		{91, 0, 0, NoBaseID},
		{0, -181, 0, NoBaseID},
		{0, 0, 0, 4096},
		{0, 0, 0, -2},
	} {
		if _, err := ModeBase(tc.lat, tc.lon, tc.alt, tc.id); err == nil {
			t.Fatalf("expected error for %+v", tc)
		}
	}
}

func TestModeBaseTime(t *testing.T) {
	cmd, err := ModeBaseTime(120, 1, NoBaseID)
	if err != nil || cmd != "MODE BASE TIME 120 1" {
		t.Fatalf("cmd=%q err=%v", cmd, err)
	}
	cmd, err = ModeBaseTime(60, 2.5, 4095)
	if err != nil || cmd != "MODE BASE TIME 60 2.5 4095" {
		t.Fatalf("cmd=%q err=%v", cmd, err)
	}
	if _, err := ModeBaseTime(0, 1, NoBaseID); err == nil {
		t.Fatalf("zero duration must fail")
	}
	if _, err := ModeBaseTime(60, 10.5, NoBaseID); err == nil {
		t.Fatalf("distance over 10m must fail")
	}
}

func TestConfigCom(t *testing.T) {
	cmd, err := ConfigCom("COM2", 115200)
	if err != nil || cmd != "Config com2 115200" {
		t.Fatalf("cmd=%q err=%v", cmd, err)
	}
	if _, err := ConfigCom("com9", 115200); err == nil {
		t.Fatalf("unknown port must fail")
	}
	if _, err := ConfigCom("com1", 12345); err == nil {
		t.Fatalf("unsupported baud must fail")
	}
}
