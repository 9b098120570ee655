package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gnssmon/internal/config"
)

func writeTempConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "gnssmon.yaml")
	if err := os.WriteFile(p, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return p
}

func settingsBody(t *testing.T, addr string, baud int, checksum, timeout string) []byte {
	t.Helper()
	b, err := json.Marshal(SettingsPayloadIn{
		SerialAddress:  &addr,
		SerialBaud:     &baud,
		GPSChecksum:    &checksum,
		CommandTimeout: &timeout,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestSettingsGET(t *testing.T) {
	cfgPath := writeTempConfigFile(t, "serial:\n  address: /dev/ttyUSB0\n  baud: 115200\n")
	ts := httptest.NewServer(SettingsStore{ConfigPath: cfgPath}.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/settings")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()
	var got SettingsPayload
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SerialAddress != "/dev/ttyUSB0" || got.SerialBaud != 115200 || got.GPSChecksum != "lenient" || got.CommandTimeout != "1s" {
		t.Fatalf("payload=%+v", got)
	}
}

func TestSettingsPOST_AppliesAndSaves(t *testing.T) {
	cfgPath := writeTempConfigFile(t, "serial:\n  address: /dev/ttyUSB0\n")

	appliedCh := make(chan config.Config, 1)
	store := SettingsStore{
		ConfigPath: cfgPath,
		Apply: func(cfg config.Config) error {
			appliedCh <- cfg
			return nil
		},
	}
	ts := httptest.NewServer(store.Handler())
	defer ts.Close()

	body := settingsBody(t, "tcp://192.168.1.20:4001", 115200, "strict", "1500ms")
	resp, err := http.Post(ts.URL+"/api/settings", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status=%d body=%s", resp.StatusCode, string(b))
	}

	select {
	case got := <-appliedCh:
		if got.Serial.Address != "tcp://192.168.1.20:4001" || got.Serial.Baud != 115200 {
			t.Fatalf("applied serial=%+v", got.Serial)
		}
		if got.GPS.Checksum != config.ChecksumStrict {
			t.Fatalf("applied checksum=%q", got.GPS.Checksum)
		}
		if got.Command.Timeout != 1500*time.Millisecond {
			t.Fatalf("applied timeout=%s", got.Command.Timeout)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for Apply")
	}

	reloaded, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Serial.Address != "tcp://192.168.1.20:4001" || reloaded.Command.Timeout != 1500*time.Millisecond {
		t.Fatalf("not persisted: %+v", reloaded)
	}
}

func TestSettingsPOST_ApplyFailureDoesNotSave(t *testing.T) {
	original := "serial:\n  address: /dev/ttyUSB0\n"
	cfgPath := writeTempConfigFile(t, original)

	store := SettingsStore{
		ConfigPath: cfgPath,
		Apply:      func(cfg config.Config) error { return errors.New("boom") },
	}
	ts := httptest.NewServer(store.Handler())
	defer ts.Close()

	body := settingsBody(t, "/dev/ttyACM0", 9600, "lenient", "2s")
	resp, err := http.Post(ts.URL+"/api/settings", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", resp.StatusCode)
	}
	onDisk, _ := os.ReadFile(cfgPath)
	if string(onDisk) != original {
		t.Fatalf("config changed on disk: %s", string(onDisk))
	}
}

func TestSettingsPOST_Rejections(t *testing.T) {
	cfgPath := writeTempConfigFile(t, "")
	ts := httptest.NewServer(SettingsStore{ConfigPath: cfgPath}.Handler())
	defer ts.Close()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"MissingKey", `{"serial_address":"","serial_baud":9600,"gps_checksum":"lenient"}`, "missing required key \"command_timeout\""},
		{"Duplicate", `{"serial_address":"","serial_address":"x","serial_baud":9600,"gps_checksum":"lenient","command_timeout":"1s"}`, "duplicate key"},
		{"Unknown", `{"serial_address":"","serial_baud":9600,"gps_checksum":"lenient","command_timeout":"1s","extra":1}`, "unknown key"},
		{"Null", `{"serial_address":null,"serial_baud":9600,"gps_checksum":"lenient","command_timeout":"1s"}`, "cannot be null"},
		{"BadChecksum", `{"serial_address":"","serial_baud":9600,"gps_checksum":"maybe","command_timeout":"1s"}`, "gps.checksum"},
		{"BadTimeout", `{"serial_address":"","serial_baud":9600,"gps_checksum":"lenient","command_timeout":"soon"}`, "invalid command_timeout"},
		{"BadScheme", `{"serial_address":"ftp://x","serial_baud":9600,"gps_checksum":"lenient","command_timeout":"1s"}`, "not supported"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/settings", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST error: %v", err)
			}
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", resp.StatusCode, string(b))
			}
			if !strings.Contains(string(b), tc.want) {
				t.Fatalf("body=%q want substring %q", string(b), tc.want)
			}
		})
	}
}

func TestSettings_NoConfigPath(t *testing.T) {
	ts := httptest.NewServer(SettingsStore{}.Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/settings")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status=%d want 501", resp.StatusCode)
	}
}

func TestSettingsPUT_AppliesLikePOST(t *testing.T) {
	cfgPath := writeTempConfigFile(t, "serial:\n  address: /dev/ttyUSB0\n")
	var applied config.Config
	store := SettingsStore{
		ConfigPath: cfgPath,
		Apply: func(cfg config.Config) error {
			applied = cfg
			return nil
		},
	}
	ts := httptest.NewServer(store.Handler())
	defer ts.Close()

	body := settingsBody(t, "/dev/ttyACM0", 38400, "strict", "750ms")
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/settings", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status=%d body=%s", resp.StatusCode, string(b))
	}
	var got SettingsPayload
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SerialAddress != "/dev/ttyACM0" || got.SerialBaud != 38400 || got.GPSChecksum != "strict" || got.CommandTimeout != "750ms" {
		t.Fatalf("response=%+v", got)
	}
	if applied.Serial.Address != "/dev/ttyACM0" || applied.Command.Timeout != 750*time.Millisecond {
		t.Fatalf("applied=%+v", applied)
	}
	reloaded, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Serial.Baud != 38400 || reloaded.GPS.Checksum != config.ChecksumStrict {
		t.Fatalf("not persisted: %+v", reloaded)
	}
}

func TestSettings_MethodNotAllowed(t *testing.T) {
	cfgPath := writeTempConfigFile(t, "")
	ts := httptest.NewServer(SettingsStore{ConfigPath: cfgPath}.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/settings", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d want 405", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != "GET, POST, PUT" {
		t.Fatalf("Allow=%q", allow)
	}
}
