// Package replay reads and writes timed NMEA capture logs, so a session can
// be played back later with its original pacing.
package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"gnssmon/internal/events"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<sentence>
//   where t_ns is nanoseconds since START and sentence is the raw line as
//   read from the receiver. Only the first comma separates the fields.
//
// A writer opened on an existing file appends a new START segment.

const StartMarker = "START"

type Record struct {
	At   time.Duration
	Line string // "" marks START
}

// IsStart reports whether the record is a segment marker.
func (r Record) IsStart() bool { return r.Line == "" }

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == StartMarker {
			recs = append(recs, Record{})
			continue
		}

		tsStr, sentence, ok := strings.Cut(line, ",")
		if !ok {
			return nil, fmt.Errorf("invalid capture line (missing comma): %q", line)
		}
		tsStr = strings.TrimSpace(tsStr)
		sentence = strings.TrimSpace(sentence)
		if tsStr == "" || sentence == "" {
			return nil, fmt.Errorf("invalid capture line (empty field): %q", line)
		}
		tsNs, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid capture timestamp %q: %w", tsStr, err)
		}
		if tsNs < 0 {
			return nil, fmt.Errorf("invalid capture timestamp (negative): %d", tsNs)
		}
		recs = append(recs, Record{At: time.Duration(tsNs), Line: sentence})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// IsCaptureLog reports whether r starts, after comments and blank lines,
// with a START marker.
func IsCaptureLog(r io.Reader) bool {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line == StartMarker
	}
	return false
}

type Writer struct {
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool

	lines atomic.Uint64
}

// CreateWriter opens path for appending and starts a new segment at now.
func CreateWriter(path string, now time.Time) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString(StartMarker + "\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: now}, nil
}

func (ww *Writer) WriteLine(now time.Time, line string) error {
	if ww.closed {
		return errors.New("capture writer is closed")
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("line contains a line break")
	}

	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	if _, err := fmt.Fprintf(ww.w, "%d,%s\n", d.Nanoseconds(), line); err != nil {
		return err
	}
	ww.lines.Add(1)
	return nil
}

// Lines counts sentences written since the writer was created.
func (ww *Writer) Lines() uint64 { return ww.lines.Load() }

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

// Run writes every raw line event until ctx is done, flushing each
// flushEvery. The writer is flushed but not closed on return.
func (ww *Writer) Run(ctx context.Context, sub events.Subscriber, clk clock.Clock, flushEvery time.Duration) error {
	if clk == nil {
		clk = clock.New()
	}
	if flushEvery <= 0 {
		flushEvery = time.Second
	}
	id, ch := sub.Subscribe(1024)
	defer sub.Unsubscribe(id)

	ticker := clk.Ticker(flushEvery)
	defer ticker.Stop()

	var lastErr string
	report := func(err error) {
		if err == nil {
			lastErr = ""
			return
		}
		if err.Error() != lastErr {
			log.Printf("capture write failed err=%v", err)
			lastErr = err.Error()
		}
	}

	for {
		select {
		case <-ctx.Done():
			report(ww.Flush())
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return ww.Flush()
			}
			if ev.Kind != events.KindLine {
				continue
			}
			at := ev.Time
			if at.IsZero() {
				at = clk.Now()
			}
			report(ww.WriteLine(at, ev.Line))
		case <-ticker.C:
			report(ww.Flush())
		}
	}
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Play replays records with their relative timing.
//
// cb is invoked for each sentence record. START markers reset the origin.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
func Play(records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(line string) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}

	for {
		var origin time.Duration
		var lastAt time.Duration
		var haveLast bool

		for _, r := range records {
			if r.IsStart() {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := at - lastAt
				if wait < 0 {
					wait = 0
				}
				wait = time.Duration(float64(wait) / speedMultiplier)
				if wait > 0 {
					sleeper.Sleep(wait)
				}
			}

			if err := cb(r.Line); err != nil {
				return err
			}

			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
	}
}
