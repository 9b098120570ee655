package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type pipeRWC struct {
	r *io.PipeReader

	mu  sync.Mutex
	out bytes.Buffer
}

func (p *pipeRWC) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipeRWC) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *pipeRWC) Close() error { return p.r.Close() }

func (p *pipeRWC) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

type readOnly struct{ io.Reader }

func (readOnly) Write(b []byte) (int, error) { return len(b), nil }
func (readOnly) Close() error                { return nil }

func waitLine(t *testing.T, p Port) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if line := p.ReadLine(); line != "" {
			return line
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for a line")
	return ""
}

func TestLinePort_ReadWrite(t *testing.T) {
	pr, pw := io.Pipe()
	rwc := &pipeRWC{r: pr}
	p := NewLinePort("test", rwc, 0)
	defer p.Close()

	if p.ReadLine() != "" {
		t.Fatalf("expected empty read before data")
	}
	go func() {
		_, _ = io.WriteString(pw, "$GPGGA,1\r\n\r\n  $GPRMC,2  \n")
	}()
	if got := waitLine(t, p); got != "$GPGGA,1" {
		t.Fatalf("first=%q", got)
	}
	if got := waitLine(t, p); got != "$GPRMC,2" {
		t.Fatalf("second=%q", got)
	}

	if err := p.WriteLine("saveconfig"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := rwc.written(); got != "saveconfig\r\n" {
		t.Fatalf("written=%q", got)
	}
}

func TestLinePort_EOFClosesAfterDrain(t *testing.T) {
	p := NewLinePort("test", readOnly{strings.NewReader("a\nb\n")}, 0)
	<-p.Done()
	if !p.IsOpen() {
		t.Fatalf("port must stay open while lines are queued")
	}
	if waitLine(t, p) != "a" || waitLine(t, p) != "b" {
		t.Fatalf("unexpected lines")
	}
	if p.IsOpen() {
		t.Fatalf("port must report closed after EOF and drain")
	}
	if err := p.WriteLine("x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("write after EOF err=%v", err)
	}
	if err := p.LastError(); err == nil || !errors.Is(err, io.EOF) {
		t.Fatalf("last error=%v", err)
	}
}

func TestLinePort_OverflowDropsOldest(t *testing.T) {
	p := NewLinePort("test", readOnly{strings.NewReader("1\n2\n3\n4\n")}, 2)
	<-p.Done()
	if p.Dropped() != 2 {
		t.Fatalf("dropped=%d", p.Dropped())
	}
	if got := p.ReadLine(); got != "3" {
		t.Fatalf("oldest surviving line=%q", got)
	}
}

func TestLinePort_ResetInputAndClose(t *testing.T) {
	p := NewLinePort("test", readOnly{strings.NewReader("1\n2\n")}, 0)
	<-p.Done()
	p.ResetInput()
	if p.ReadLine() != "" {
		t.Fatalf("expected queue drained")
	}

	pr, _ := io.Pipe()
	q := NewLinePort("test", &pipeRWC{r: pr}, 0)
	if !q.IsOpen() {
		t.Fatalf("expected open")
	}
	_ = q.Close()
	_ = q.Close()
	if q.IsOpen() || q.ReadLine() != "" {
		t.Fatalf("closed port must read empty")
	}
	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatalf("reader goroutine did not exit")
	}
}

func TestLinePort_ClaimIsExclusive(t *testing.T) {
	pr, _ := io.Pipe()
	p := NewLinePort("test", &pipeRWC{r: pr}, 0)
	defer p.Close()

	release, err := p.Claim(context.Background())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Claim(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second claim err=%v", err)
	}
	release()
	release()
	again, err := p.Claim(context.Background())
	if err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	again()
}

func TestOpen_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = io.WriteString(c, "$GPGGA,1\r\n")
		buf := make([]byte, 64)
		_, _ = c.Read(buf)
	}()

	p, err := Open("tcp://"+ln.Addr().String(), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()
	if got := waitLine(t, p); got != "$GPGGA,1" {
		t.Fatalf("line=%q", got)
	}
}

func TestOpen_GPSDSendsWatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	got := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 256)
		n, _ := c.Read(buf)
		got <- string(buf[:n])
	}()

	p, err := Open("gpsd://"+ln.Addr().String(), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()
	select {
	case w := <-got:
		if !strings.Contains(w, `"nmea":true`) {
			t.Fatalf("watch=%q", w)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no watch request")
	}
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	if _, err := Open("bluetooth://aa:bb", 0); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpen_Replay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.nmea")
	data := "# captured on the roof\n$GPGGA,1\n\n$GPGSV,1,1,00\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := Open("file://"+path+"?interval=1ms&ack=true", 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()

	if got := waitLine(t, p); got != "$GPGGA,1" {
		t.Fatalf("first=%q", got)
	}
	if got := waitLine(t, p); got != "$GPGSV,1,1,00" {
		t.Fatalf("second=%q", got)
	}
	if err := p.WriteLine("MODE ROVER"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := waitLine(t, p); got != AckLine("MODE ROVER") {
		t.Fatalf("ack=%q", got)
	}
}

func TestOpen_ReplayCaptureLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.log")
	data := "# gnssmon capture\nSTART\n0,$GPGGA,1\n40000000,$GPRMC,2\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := Open("file://"+path+"?speed=4", 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer p.Close()

	// Timestamps are stripped; only the sentences come through.
	if got := waitLine(t, p); got != "$GPGGA,1" {
		t.Fatalf("first=%q", got)
	}
	if got := waitLine(t, p); got != "$GPRMC,2" {
		t.Fatalf("second=%q", got)
	}
}

func TestOpen_ReplayMissingFile(t *testing.T) {
	if _, err := Open("file://"+filepath.Join(t.TempDir(), "nope.nmea"), 0); err == nil {
		t.Fatalf("expected error for missing replay file")
	}
}

func TestParseReplayOptions(t *testing.T) {
	for _, bad := range []string{"file:///x?interval=soon", "file:///x?loop=maybe", "file:///x?ack=2", "file:///x?speed=0", "file://"} {
		u, err := url.Parse(bad)
		if err != nil {
			t.Fatalf("parse %q: %v", bad, err)
		}
		if _, err := parseReplayOptions(u); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	u, _ := url.Parse("file://testdata/a.nmea?loop=true")
	opts, err := parseReplayOptions(u)
	if err != nil || opts.path != "testdata/a.nmea" || !opts.loop || opts.interval != defaultReplayInterval || opts.speed != 1 {
		t.Fatalf("opts=%+v err=%v", opts, err)
	}
}

func TestAckLine(t *testing.T) {
	if got := AckLine("saveconfig"); !strings.HasPrefix(got, "$command,saveconfig,response: OK*") {
		t.Fatalf("ack=%q", got)
	}
}
