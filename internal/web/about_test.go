package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"runtime/debug"
	"testing"
	"time"
)

func TestModuleVersions(t *testing.T) {
	deps := []*debug.Module{
		{Path: "github.com/adrianmo/go-nmea", Version: "v1.10.0"},
		{Path: "github.com/mattn/go-sqlite3", Version: "v1.14.24", Replace: &debug.Module{Path: "../sqlite", Version: ""}},
		{Path: "golang.org/x/net", Version: "v0.27.0"},
		nil,
	}
	got := moduleVersions(deps)
	if len(got) != 2 || got["github.com/adrianmo/go-nmea"] != "v1.10.0" || got["github.com/mattn/go-sqlite3"] != "(replaced)" {
		t.Fatalf("modules=%v", got)
	}
	if moduleVersions(nil) != nil {
		t.Fatalf("expected nil without deps")
	}
}

func TestAboutHandler_ReportsReceiver(t *testing.T) {
	st := NewStatus()
	st.MarkConnected(time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC), "/dev/ttyUSB0", 115200)
	st.SetSinks([]string{"record", "mqtt"})
	ts := httptest.NewServer(AboutHandler(st, "/etc/gnssmon.yaml"))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var got AboutResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Service != "gnssmon" || got.ConfigPath != "/etc/gnssmon.yaml" || got.Build.GoVersion != runtime.Version() {
		t.Fatalf("about=%+v", got)
	}
	if got.Receiver == nil || got.Receiver.Address != "/dev/ttyUSB0" || got.Receiver.Baud != 115200 || !got.Receiver.Connected {
		t.Fatalf("receiver=%+v", got.Receiver)
	}
	if len(got.Sinks) != 2 || got.StartedUTC == "" {
		t.Fatalf("sinks=%v started=%q", got.Sinks, got.StartedUTC)
	}
}

func TestAboutHandler_NoStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	AboutHandler(nil, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/about", nil))
	var got AboutResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Receiver != nil || got.ConfigPath != "" {
		t.Fatalf("about=%+v", got)
	}

	rec = httptest.NewRecorder()
	AboutHandler(nil, "").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/about", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status=%d", rec.Code)
	}
}
