package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"gnssmon/internal/replay"
)

const defaultReplayInterval = 50 * time.Millisecond

// Replay log format: one NMEA sentence per line, as captured from a receiver.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
//
// A timed capture log (see package replay) is detected by its START marker
// and played back with its recorded pacing instead of a fixed interval.
//
// Query parameters on the file:// address:
//
//	interval=100ms  pause between lines of a plain log (default 50ms)
//	speed=2         playback speed of a capture log (default 1)
//	loop=true       start over at the end of the file
//	ack=true        answer every written command with "$command,<cmd>,response: OK"
//	                and stay open once the file is exhausted
type replayOptions struct {
	path     string
	interval time.Duration
	speed    float64
	loop     bool
	ack      bool
}

var errReplayStopped = errors.New("replay stopped")

func parseReplayOptions(u *url.URL) (replayOptions, error) {
	opts := replayOptions{path: u.Path, interval: defaultReplayInterval, speed: 1}
	if u.Host != "" {
		// file://relative/path.nmea
		opts.path = u.Host + u.Path
	}
	if opts.path == "" {
		return replayOptions{}, fmt.Errorf("replay path is required")
	}
	q := u.Query()
	if s := q.Get("interval"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			return replayOptions{}, fmt.Errorf("invalid replay interval %q", s)
		}
		opts.interval = d
	}
	if s := q.Get("speed"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			return replayOptions{}, fmt.Errorf("invalid replay speed %q", s)
		}
		opts.speed = v
	}
	if s := q.Get("loop"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return replayOptions{}, fmt.Errorf("invalid replay loop %q", s)
		}
		opts.loop = v
	}
	if s := q.Get("ack"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return replayOptions{}, fmt.Errorf("invalid replay ack %q", s)
		}
		opts.ack = v
	}
	return opts, nil
}

func openReplay(address string, u *url.URL) (Port, error) {
	opts, err := parseReplayOptions(u)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(opts.path); err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	return NewLinePort(address, newReplayStream(opts), 0), nil
}

type replayStream struct {
	opts replayOptions

	pr *io.PipeReader
	pw *io.PipeWriter

	stop      chan struct{}
	closeOnce sync.Once
}

func newReplayStream(opts replayOptions) *replayStream {
	pr, pw := io.Pipe()
	r := &replayStream{opts: opts, pr: pr, pw: pw, stop: make(chan struct{})}
	go r.run()
	return r
}

func (r *replayStream) run() {
	defer r.pw.Close()
	for {
		ok := r.playOnce()
		if ok && r.opts.loop {
			continue
		}
		if ok && r.opts.ack {
			// Stay connected so commands are still acknowledged.
			<-r.stop
		}
		return
	}
}

func (r *replayStream) playOnce() bool {
	f, err := os.Open(r.opts.path)
	if err != nil {
		_ = r.pw.CloseWithError(err)
		return false
	}
	defer f.Close()

	if replay.IsCaptureLog(f) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			_ = r.pw.CloseWithError(err)
			return false
		}
		return r.playCapture(f)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = r.pw.CloseWithError(err)
		return false
	}

	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 256), maxLineBytes)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, err := io.WriteString(r.pw, line+"\r\n"); err != nil {
			return false
		}
		if r.opts.interval > 0 {
			select {
			case <-r.stop:
				return false
			case <-time.After(r.opts.interval):
			}
		}
	}
	return s.Err() == nil
}

func (r *replayStream) playCapture(f io.Reader) bool {
	recs, err := replay.NewReader(f).ReadAll()
	if err != nil {
		_ = r.pw.CloseWithError(err)
		return false
	}
	if len(recs) == 0 {
		return true
	}
	err = replay.Play(recs, r.opts.speed, false, stopSleeper{stop: r.stop}, func(line string) error {
		select {
		case <-r.stop:
			return errReplayStopped
		default:
		}
		_, err := io.WriteString(r.pw, line+"\r\n")
		return err
	})
	return err == nil
}

// stopSleeper cuts waits short once the stream is closed.
type stopSleeper struct {
	stop <-chan struct{}
}

func (s stopSleeper) Sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.stop:
	case <-t.C:
	}
}

func (r *replayStream) Read(p []byte) (int, error) {
	return r.pr.Read(p)
}

// Write swallows commands, or acknowledges them when ack=true.
func (r *replayStream) Write(p []byte) (int, error) {
	if !r.opts.ack {
		return len(p), nil
	}
	for _, cmd := range strings.Split(string(p), "\n") {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		if _, err := io.WriteString(r.pw, AckLine(cmd)+"\r\n"); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (r *replayStream) Close() error {
	r.closeOnce.Do(func() {
		close(r.stop)
		_ = r.pr.Close()
	})
	return nil
}

// AckLine builds the acknowledgment a Unicore-style receiver sends for cmd.
func AckLine(cmd string) string {
	payload := "command," + cmd + ",response: OK"
	return "$" + payload + "*" + nmea.Checksum(payload)
}
