package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Modules whose versions matter when comparing receiver behaviour between
// builds.
var aboutModules = []string{
	"github.com/adrianmo/go-nmea",
	"github.com/jacobsa/go-serial",
	"github.com/eclipse/paho.mqtt.golang",
	"github.com/influxdata/influxdb-client-go/v2",
	"github.com/mattn/go-sqlite3",
}

type BuildInfo struct {
	GoVersion  string            `json:"go_version"`
	ModulePath string            `json:"module_path,omitempty"`
	Version    string            `json:"version,omitempty"`
	Commit     string            `json:"commit,omitempty"`
	Dirty      bool              `json:"dirty,omitempty"`
	BuildTime  string            `json:"build_time,omitempty"`
	Modules    map[string]string `json:"modules,omitempty"`
}

type AboutResponse struct {
	Service    string        `json:"service"`
	NowUTC     string        `json:"now_utc"`
	StartedUTC string        `json:"started_utc,omitempty"`
	ConfigPath string        `json:"config_path,omitempty"`
	Receiver   *LinkSnapshot `json:"receiver,omitempty"`
	Sinks      []string      `json:"sinks,omitempty"`
	Build      BuildInfo     `json:"build"`
}

func readBuildInfo() BuildInfo {
	out := BuildInfo{GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return out
	}
	out.ModulePath = bi.Main.Path
	out.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		case "vcs.time":
			out.BuildTime = s.Value
		}
	}
	out.Modules = moduleVersions(bi.Deps)
	return out
}

func moduleVersions(deps []*debug.Module) map[string]string {
	var out map[string]string
	for _, m := range deps {
		if m == nil {
			continue
		}
		for _, want := range aboutModules {
			if m.Path != want {
				continue
			}
			v := m.Version
			if m.Replace != nil {
				v = strings.TrimSpace(m.Replace.Version + " (replaced)")
			}
			if out == nil {
				out = make(map[string]string)
			}
			out[m.Path] = v
		}
	}
	return out
}

// AboutHandler reports the build and which receiver this process talks to.
// status may be nil.
func AboutHandler(status *Status, configPath string) http.Handler {
	build := readBuildInfo()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}

		now := time.Now().UTC()
		resp := AboutResponse{
			Service:    "gnssmon",
			NowUTC:     now.Format(time.RFC3339Nano),
			ConfigPath: configPath,
			Build:      build,
		}
		if status != nil {
			snap := status.Snapshot(now)
			resp.StartedUTC = status.Started().Format(time.RFC3339)
			resp.Receiver = &snap.Link
			resp.Sinks = snap.Sinks
		}
		writeJSON(w, resp)
	})
}
