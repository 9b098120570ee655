package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Longest unterminated write kept while waiting for its newline.
const maxPendingLog = 64 << 10

type logEntry struct {
	subsystem string
	text      string
}

// LogBuffer keeps the most recent process log lines for /api/logs. Each line
// is tagged with its subsystem: the first word of the message, such as gps,
// command or receiver.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	entries []logEntry
	pending []byte
	dropped uint64
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{max: maxLines}
}

// Write implements io.Writer. Text after the last newline waits for the next
// write.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, p...)
	for {
		i := bytes.IndexByte(b.pending, '\n')
		if i < 0 {
			break
		}
		b.appendLocked(string(b.pending[:i]))
		b.pending = b.pending[i+1:]
	}
	if len(b.pending) > maxPendingLog {
		b.appendLocked(string(b.pending))
		b.pending = nil
	}
	if len(b.pending) == 0 {
		b.pending = nil
	}
	return len(p), nil
}

func (b *LogBuffer) appendLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	b.entries = append(b.entries, logEntry{subsystem: logSubsystem(line), text: line})
	if over := len(b.entries) - b.max; over > 0 {
		b.entries = append(b.entries[:0:0], b.entries[over:]...)
		b.dropped += uint64(over)
	}
}

// logSubsystem skips the date and time the log package prepends and returns
// the first word of the message, or "" when it is not a plain word.
func logSubsystem(line string) string {
	fields := strings.Fields(line)
	for len(fields) > 0 && fields[0][0] >= '0' && fields[0][0] <= '9' {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return ""
	}
	word, _, _ := strings.Cut(fields[0], "=")
	word = strings.TrimSuffix(word, ":")
	if word == "" {
		return ""
	}
	for _, r := range word {
		if (r < 'a' || r > 'z') && r != '_' && (r < '0' || r > '9') {
			return ""
		}
	}
	return word
}

type LogsResponse struct {
	NowUTC     string         `json:"now_utc"`
	Dropped    uint64         `json:"dropped"`
	Subsystems map[string]int `json:"subsystems"`
	Lines      []string       `json:"lines"`
}

// Snapshot returns up to tail of the newest lines. With subsystems set only
// lines from those subsystems count.
func (b *LogBuffer) Snapshot(tail int, subsystems ...string) (lines []string, dropped uint64) {
	if tail <= 0 {
		tail = 200
	}
	var only map[string]bool
	if len(subsystems) > 0 {
		only = make(map[string]bool, len(subsystems))
		for _, s := range subsystems {
			only[s] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.entries) - 1; i >= 0 && len(lines) < tail; i-- {
		if only != nil && !only[b.entries[i].subsystem] {
			continue
		}
		lines = append(lines, b.entries[i].text)
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, b.dropped
}

// Subsystems counts the buffered lines per subsystem.
func (b *LogBuffer) Subsystems() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int)
	for _, e := range b.entries {
		if e.subsystem != "" {
			out[e.subsystem]++
		}
	}
	return out
}

func parseSubsystems(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}

		q := r.URL.Query()
		tail := 200
		if s := strings.TrimSpace(q.Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
				return
			}
			tail = v
		}
		lines, dropped := b.Snapshot(tail, parseSubsystems(q.Get("subsystem"))...)
		w.Header().Set("Cache-Control", "no-store")

		if strings.EqualFold(q.Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			for _, line := range lines {
				_, _ = fmt.Fprintln(w, line)
			}
			return
		}

		if lines == nil {
			lines = []string{}
		}
		resp := LogsResponse{
			NowUTC:     time.Now().UTC().Format(time.RFC3339Nano),
			Dropped:    dropped,
			Subsystems: b.Subsystems(),
			Lines:      lines,
		}
		bts, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(bts)
		_, _ = w.Write([]byte("\n"))
	})
}
