package command

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultPresets are the receiver configuration batches shipped with the tool.
// Config may override or extend them by name.
var DefaultPresets = map[string][]string{
	"nmea": {"GPGGA 1", "GPGSA 1", "GPGST 1", "GPGSV 1", "GPRMC 1"},
	"rtcm": {
		"config pvtalg multi",
		"RTCM1006 COM2 10",
		"RTCM1033 COM2 10",
		"RTCM1074 COM2 1",
		"RTCM1084 COM2 1",
		"RTCM1094 COM2 1",
		"RTCM1114 COM2 1",
		"RTCM1124 COM2 1",
	},
	"save": {"saveconfig"},
}

// Catalog is an immutable set of named command batches.
type Catalog struct {
	presets map[string][]string
}

// NewCatalog merges overrides on top of DefaultPresets. An override with no
// commands removes the preset.
func NewCatalog(overrides map[string][]string) *Catalog {
	c := &Catalog{presets: make(map[string][]string, len(DefaultPresets)+len(overrides))}
	for name, cmds := range DefaultPresets {
		c.presets[name] = append([]string(nil), cmds...)
	}
	for name, cmds := range overrides {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		clean := make([]string, 0, len(cmds))
		for _, cmd := range cmds {
			if cmd = strings.TrimSpace(cmd); cmd != "" {
				clean = append(clean, cmd)
			}
		}
		if len(clean) == 0 {
			delete(c.presets, name)
			continue
		}
		c.presets[name] = clean
	}
	return c
}

func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.presets))
	for name := range c.presets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Commands returns a copy of the named batch.
func (c *Catalog) Commands(name string) ([]string, bool) {
	cmds, ok := c.presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	return append([]string(nil), cmds...), true
}

// All returns a copy of every batch keyed by name.
func (c *Catalog) All() map[string][]string {
	out := make(map[string][]string, len(c.presets))
	for name, cmds := range c.presets {
		out[name] = append([]string(nil), cmds...)
	}
	return out
}

const (
	MaxBaseID       = 4095
	MaxDistanceM    = 10.0
	NoBaseID        = -1
	maxSurveySecond = 24 * 3600
)

// SupportedBauds are the COM port rates the receiver accepts.
var SupportedBauds = []int{9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func validBaseID(id int) error {
	if id == NoBaseID {
		return nil
	}
	if id < 0 || id > MaxBaseID {
		return fmt.Errorf("base id %d out of range 0-%d", id, MaxBaseID)
	}
	return nil
}

// ModeBase fixes the base station at a surveyed position:
// "MODE BASE <lat> <lon> <alt> [id]". Pass NoBaseID to omit the id.
func ModeBase(latDeg, lonDeg, altM float64, baseID int) (string, error) {
	if math.IsNaN(latDeg) || latDeg < -90 || latDeg > 90 {
		return "", fmt.Errorf("latitude %v out of range", latDeg)
	}
	if math.IsNaN(lonDeg) || lonDeg < -180 || lonDeg > 180 {
		return "", fmt.Errorf("longitude %v out of range", lonDeg)
	}
	if math.IsNaN(altM) || math.IsInf(altM, 0) {
		return "", fmt.Errorf("invalid altitude %v", altM)
	}
	if err := validBaseID(baseID); err != nil {
		return "", err
	}
	cmd := fmt.Sprintf("MODE BASE %s %s %s", formatFloat(latDeg), formatFloat(lonDeg), formatFloat(altM))
	if baseID != NoBaseID {
		cmd += " " + strconv.Itoa(baseID)
	}
	return cmd, nil
}

// ModeBaseTime starts a self-survey: "MODE BASE TIME <seconds> <distance> [id]".
func ModeBaseTime(durationSec int, distanceM float64, baseID int) (string, error) {
	if durationSec <= 0 || durationSec > maxSurveySecond {
		return "", fmt.Errorf("duration %ds out of range 1-%d", durationSec, maxSurveySecond)
	}
	if math.IsNaN(distanceM) || distanceM < 0 || distanceM > MaxDistanceM {
		return "", fmt.Errorf("distance limit %vm out of range 0-%v", distanceM, MaxDistanceM)
	}
	if err := validBaseID(baseID); err != nil {
		return "", err
	}
	cmd := fmt.Sprintf("MODE BASE TIME %d %s", durationSec, formatFloat(distanceM))
	if baseID != NoBaseID {
		cmd += " " + strconv.Itoa(baseID)
	}
	return cmd, nil
}

var comPortRe = regexp.MustCompile(`^(?i)com[1-3]$`)

// ConfigCom sets a receiver COM port rate: "Config com2 115200".
func ConfigCom(port string, baud int) (string, error) {
	port = strings.TrimSpace(port)
	if !comPortRe.MatchString(port) {
		return "", fmt.Errorf("unknown port %q (want com1-com3)", port)
	}
	ok := false
	for _, b := range SupportedBauds {
		if b == baud {
			ok = true
			break
		}
	}
	if !ok {
		return "", fmt.Errorf("unsupported baud %d", baud)
	}
	return fmt.Sprintf("Config %s %d", strings.ToLower(port), baud), nil
}
