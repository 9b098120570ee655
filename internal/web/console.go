package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"gnssmon/internal/events"
)

// Console keeps the most recent raw receiver traffic for the UI: every line
// read, commands written ("> cmd") and their acknowledgments.
type Console struct {
	mu           sync.Mutex
	maxLines     int
	maxLineBytes int
	lines        []string
	total        uint64
}

func NewConsole(maxLines int) *Console {
	if maxLines <= 0 {
		maxLines = 500
	}
	return &Console{maxLines: maxLines, maxLineBytes: 4096, lines: make([]string, 0, maxLines)}
}

func (c *Console) Add(line string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(line) > c.maxLineBytes {
		line = line[:c.maxLineBytes]
	}
	c.total++
	if len(c.lines) < c.maxLines {
		c.lines = append(c.lines, line)
		return
	}
	copy(c.lines, c.lines[1:])
	c.lines[len(c.lines)-1] = line
}

// Snapshot returns up to tail of the newest lines, oldest first, and the
// number of lines ever added.
func (c *Console) Snapshot(tail int) ([]string, uint64) {
	if c == nil {
		return nil, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if tail <= 0 || tail > len(c.lines) {
		tail = len(c.lines)
	}
	out := make([]string, tail)
	copy(out, c.lines[len(c.lines)-tail:])
	return out, c.total
}

// consoleLine renders an event as console text; "" means the event is not
// shown.
func consoleLine(ev events.Event) string {
	switch ev.Kind {
	case events.KindLine:
		return ev.Line
	case events.KindCommandSent:
		return "> " + ev.Line
	case events.KindCommandResent:
		if m, ok := ev.Payload.(map[string]any); ok {
			if n, ok := m["attempt"].(int); ok {
				return fmt.Sprintf("> %s (retry %d)", ev.Line, n-1)
			}
		}
		return "> " + ev.Line + " (retry)"
	case events.KindCommandAcked:
		return ev.Line
	default:
		return ""
	}
}

// Run feeds the console from the hub until ctx is done.
func (c *Console) Run(ctx context.Context, sub Subscriber) error {
	return events.Consume(ctx, sub, 256, func(ev events.Event) {
		if line := consoleLine(ev); line != "" {
			c.Add(line)
		}
	})
}

type ConsoleResponse struct {
	NowUTC string   `json:"now_utc"`
	Total  uint64   `json:"total"`
	Lines  []string `json:"lines"`
}

func (c *Console) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}

		tail := 100
		if s := strings.TrimSpace(r.URL.Query().Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
				return
			}
			tail = v
		}

		lines, total := c.Snapshot(tail)
		if strings.EqualFold(r.URL.Query().Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			for _, line := range lines {
				_, _ = w.Write([]byte(line))
				_, _ = w.Write([]byte("\n"))
			}
			return
		}
		writeJSON(w, ConsoleResponse{
			NowUTC: time.Now().UTC().Format(time.RFC3339Nano),
			Total:  total,
			Lines:  lines,
		})
	})
}
