package web

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// TemperatureSnapshot is the SoC temperature of the host.
type TemperatureSnapshot struct {
	CPUC      *float64 `json:"cpu_c,omitempty"`
	LastError string   `json:"last_error,omitempty"`
}

// parseThermalC accepts milli-degrees (52345) or whole degrees (52).
func parseThermalC(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("thermal zone empty")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse thermal zone %q: %w", s, err)
	}
	if n > 1000 || n < -1000 {
		return float64(n) / 1000.0, nil
	}
	return float64(n), nil
}

func snapshotTemperature(path string) *TemperatureSnapshot {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &TemperatureSnapshot{LastError: err.Error()}
	}
	c, err := parseThermalC(string(b))
	if err != nil {
		return &TemperatureSnapshot{LastError: err.Error()}
	}
	return &TemperatureSnapshot{CPUC: &c}
}
