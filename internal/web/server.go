package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"gnssmon/internal/command"
	"gnssmon/internal/events"
	"gnssmon/internal/gps"
	"gnssmon/internal/record"
)

//go:embed assets/*
var embeddedAssets embed.FS

const (
	// DefaultCommandDeadline bounds how long a command request waits for its
	// acknowledgment, across all resends.
	DefaultCommandDeadline = 8 * time.Second
	maxCommandDeadline     = 25 * time.Second
)

// GPS is the read side of the ingestion service.
type GPS interface {
	Telemetry() gps.Telemetry
	Satellites(c gps.Constellation) []gps.Satellite
	Signal(c gps.Constellation) gps.SignalSummary
	Status() gps.Status
}

// Commander sends receiver commands. *command.Driver satisfies it.
type Commander interface {
	SendAndWaitForAck(ctx context.Context, text string, timeout time.Duration) (command.Result, error)
	RunBatch(ctx context.Context, cmds []string, timeout time.Duration) ([]command.Result, error)
	Status() command.Status
}

// Records reads back the record database. *record.Store satisfies it.
type Records interface {
	LastFixes(ctx context.Context, limit int) ([]record.Fix, error)
}

// Subscriber is the consumer side of the event hub.
type Subscriber = events.Subscriber

// Deps wires the handler to the running services. Nil fields disable the
// endpoints that need them.
type Deps struct {
	Status   *Status
	GPS      GPS
	Commands Commander
	Catalog  *command.Catalog
	Events   Subscriber
	Records  Records
	Console  *Console
	Settings SettingsStore
	Logs     *LogBuffer

	// CommandTimeout is the per-attempt ACK wait. Zero leaves it to the
	// commander's own default.
	CommandTimeout time.Duration
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// decodeBody reads a small JSON object, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if ct := strings.TrimSpace(r.Header.Get("Content-Type")); ct != "application/json" {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		http.Error(w, "invalid json: trailing data", http.StatusBadRequest)
		return false
	}
	return true
}

// parseConstellation accepts a talker code ("GP") or an empty value for all.
func parseConstellation(r *http.Request) (gps.Constellation, error) {
	c := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("constellation")))
	if c == "" || c == "ALL" {
		return "", nil
	}
	if len(c) != 2 {
		return "", fmt.Errorf("constellation must be a two-letter talker code")
	}
	return gps.Constellation(c), nil
}

// commandContext derives the request deadline from ?deadline_ms.
func commandContext(r *http.Request) (context.Context, context.CancelFunc, error) {
	d := DefaultCommandDeadline
	if s := strings.TrimSpace(r.URL.Query().Get("deadline_ms")); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || int64(v) > maxCommandDeadline.Milliseconds() {
			return nil, nil, fmt.Errorf("deadline_ms must be an integer in [1,%d]", maxCommandDeadline.Milliseconds())
		}
		d = time.Duration(v) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(r.Context(), d)
	return ctx, cancel, nil
}

// commandErrorStatus maps a driver error to an HTTP status code.
func commandErrorStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, command.ErrMaxAttempts):
		return http.StatusGatewayTimeout
	case errors.Is(err, command.ErrNoPort), errors.Is(err, command.ErrPortClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, command.ErrEmpty):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads this.
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

type commandRequest struct {
	Command string `json:"command"`
	// TimeoutMS overrides the per-attempt ACK wait.
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

type batchResponse struct {
	Preset  string           `json:"preset"`
	Results []command.Result `json:"results"`
}

type modeBaseRequest struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltM   float64 `json:"alt_m"`
	BaseID *int    `json:"base_id,omitempty"`
}

type modeBaseTimeRequest struct {
	DurationSec int     `json:"duration_sec"`
	DistanceM   float64 `json:"distance_m"`
	BaseID      *int    `json:"base_id,omitempty"`
}

type configComRequest struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}

func baseID(p *int) int {
	if p == nil {
		return command.NoBaseID
	}
	return *p
}

func Handler(d Deps) http.Handler {
	mux := http.NewServeMux()
	status := d.Status
	if status == nil {
		status = NewStatus()
	}
	cmdTimeout := d.CommandTimeout
	if cmdTimeout < 0 {
		cmdTimeout = 0
	}

	assetsFS, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		assetsFS = nil
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		if d.GPS != nil {
			st := d.GPS.Status()
			snap.GPS = &st
		}
		if d.Commands != nil {
			st := d.Commands.Status()
			snap.Command = &st
		}
		writeJSON(w, snap)
	})

	mux.HandleFunc("/api/telemetry", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if d.GPS == nil {
			http.Error(w, "gps unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, d.GPS.Telemetry())
	})

	mux.HandleFunc("/api/satellites", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if d.GPS == nil {
			http.Error(w, "gps unavailable", http.StatusServiceUnavailable)
			return
		}
		c, err := parseConstellation(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sats := d.GPS.Satellites(c)
		if sats == nil {
			sats = []gps.Satellite{}
		}
		writeJSON(w, struct {
			Constellation gps.Constellation `json:"constellation,omitempty"`
			Count         int               `json:"count"`
			Satellites    []gps.Satellite   `json:"satellites"`
		}{Constellation: c, Count: len(sats), Satellites: sats})
	})

	mux.HandleFunc("/api/signal", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if d.GPS == nil {
			http.Error(w, "gps unavailable", http.StatusServiceUnavailable)
			return
		}
		c, err := parseConstellation(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, d.GPS.Signal(c))
	})

	if d.Console != nil {
		mux.Handle("/api/console", d.Console.Handler())
	}

	mux.HandleFunc("/api/records/fixes", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if d.Records == nil {
			http.Error(w, "recording disabled", http.StatusNotFound)
			return
		}
		limit := 100
		if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 10000 {
				http.Error(w, "limit must be an integer in [1,10000]", http.StatusBadRequest)
				return
			}
			limit = v
		}
		fixes, err := d.Records.LastFixes(r.Context(), limit)
		if err != nil {
			http.Error(w, fmt.Sprintf("query failed: %v", err), http.StatusInternalServerError)
			return
		}
		if fixes == nil {
			fixes = []record.Fix{}
		}
		writeJSON(w, fixes)
	})

	sendOne := func(w http.ResponseWriter, r *http.Request, text string, timeout time.Duration) {
		if d.Commands == nil {
			http.Error(w, "commands unavailable", http.StatusServiceUnavailable)
			return
		}
		ctx, cancel, err := commandContext(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer cancel()
		res, err := d.Commands.SendAndWaitForAck(ctx, text, timeout)
		if err != nil {
			http.Error(w, err.Error(), commandErrorStatus(err))
			return
		}
		writeJSON(w, res)
	}

	mux.HandleFunc("/api/command", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		var req commandRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.ContainsAny(req.Command, "\r\n") {
			http.Error(w, "command must be a single line", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Command) == "" {
			http.Error(w, "command is required", http.StatusBadRequest)
			return
		}
		timeout := cmdTimeout
		if req.TimeoutMS < 0 {
			http.Error(w, "timeout_ms must be >= 0", http.StatusBadRequest)
			return
		}
		if req.TimeoutMS > 0 {
			timeout = time.Duration(req.TimeoutMS) * time.Millisecond
		}
		sendOne(w, r, req.Command, timeout)
	})

	mux.HandleFunc("/api/presets", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		all := map[string][]string{}
		if d.Catalog != nil {
			all = d.Catalog.All()
		}
		writeJSON(w, all)
	})

	mux.HandleFunc("/api/presets/", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		name := strings.TrimPrefix(r.URL.Path, "/api/presets/")
		if name == "" || strings.Contains(name, "/") {
			http.NotFound(w, r)
			return
		}
		if d.Catalog == nil || d.Commands == nil {
			http.Error(w, "commands unavailable", http.StatusServiceUnavailable)
			return
		}
		cmds, ok := d.Catalog.Commands(name)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown preset %q", name), http.StatusNotFound)
			return
		}
		ctx, cancel, err := commandContext(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer cancel()
		res, err := d.Commands.RunBatch(ctx, cmds, cmdTimeout)
		if err != nil {
			http.Error(w, err.Error(), commandErrorStatus(err))
			return
		}
		writeJSON(w, batchResponse{Preset: strings.ToLower(name), Results: res})
	})

	mux.HandleFunc("/api/mode-base", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		var req modeBaseRequest
		if !decodeBody(w, r, &req) {
			return
		}
		text, err := command.ModeBase(req.LatDeg, req.LonDeg, req.AltM, baseID(req.BaseID))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sendOne(w, r, text, cmdTimeout)
	})

	mux.HandleFunc("/api/mode-base-time", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		var req modeBaseTimeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		text, err := command.ModeBaseTime(req.DurationSec, req.DistanceM, baseID(req.BaseID))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sendOne(w, r, text, cmdTimeout)
	})

	mux.HandleFunc("/api/config-com", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		var req configComRequest
		if !decodeBody(w, r, &req) {
			return
		}
		text, err := command.ConfigCom(req.Port, req.Baud)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sendOne(w, r, text, cmdTimeout)
	})

	if d.Events != nil {
		mux.Handle("/api/ws", eventsHandler(d.Events))
	}

	mux.Handle("/api/settings", d.Settings.Handler())

	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}

	mux.Handle("/api/about", AboutHandler(d.Status, d.Settings.ConfigPath))

	if assetsFS != nil {
		fileServer := http.FileServer(http.FS(assetsFS))
		mux.Handle("/assets/", http.StripPrefix("/assets/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			fileServer.ServeHTTP(w, r)
		})))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			if path.Dir(r.URL.Path) == "/api" || path.Dir(r.URL.Path) == "/assets" {
				http.NotFound(w, r)
				return
			}
		}

		if assetsFS == nil {
			snap := status.Snapshot(time.Now().UTC())
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>gnssmon</title></head><body>")
			_, _ = fmt.Fprintf(w, "<h1>gnssmon</h1><p>Use <a href=\"/api/status\">/api/status</a>.</p>")
			_, _ = fmt.Fprintf(w, "<pre>address=%s\nconnected=%v</pre></body></html>", snap.Link.Address, snap.Link.Connected)
			return
		}

		b, err := fs.ReadFile(assetsFS, "index.html")
		if err != nil {
			http.Error(w, "ui unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, d Deps) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Leaves room for a command request to run to its deadline.
		WriteTimeout:   maxCommandDeadline + 5*time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		// Hijacked websocket connections outlive Shutdown; tie them to ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
