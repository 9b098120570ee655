package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

var ErrClosed = errors.New("transport: port closed")

// Port is a line-oriented link to the receiver.
//
// ReadLine never blocks: it returns "" when no line is waiting, after a read
// failure, or once the port is closed. Only the holder of a Claim may read, so
// passive ingestion and command acknowledgment never race on the same stream.
type Port interface {
	Address() string
	ReadLine() string
	WriteLine(s string) error
	ResetInput()
	IsOpen() bool
	Claim(ctx context.Context) (release func(), err error)
	Close() error
}

const (
	defaultQueueLines = 512
	maxLineBytes      = 4096
)

// LinePort adapts any byte stream into a Port. A reader goroutine splits the
// stream into lines and queues them; when the queue is full the oldest line
// is dropped.
type LinePort struct {
	addr string
	rwc  io.ReadWriteCloser

	lines chan string
	claim chan struct{}

	wmu sync.Mutex

	closed  atomic.Bool
	eof     atomic.Bool
	dropped atomic.Uint64

	errMu   sync.Mutex
	lastErr error

	closeOnce sync.Once
	done      chan struct{}
}

func NewLinePort(addr string, rwc io.ReadWriteCloser, queueLines int) *LinePort {
	if queueLines <= 0 {
		queueLines = defaultQueueLines
	}
	p := &LinePort{
		addr:  addr,
		rwc:   rwc,
		lines: make(chan string, queueLines),
		claim: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *LinePort) readLoop() {
	defer close(p.done)
	defer p.eof.Store(true)

	reader := bufio.NewScanner(p.rwc)
	// NMEA sentences are typically < 82 chars, but allow some headroom.
	reader.Buffer(make([]byte, 0, 256), maxLineBytes)
	for reader.Scan() {
		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}
		p.enqueue(line)
	}
	err := reader.Err()
	if err == nil {
		err = io.EOF
	}
	if !p.closed.Load() {
		p.setErr(fmt.Errorf("read stopped: %w", err))
	}
}

func (p *LinePort) enqueue(line string) {
	for {
		select {
		case p.lines <- line:
			return
		default:
		}
		select {
		case <-p.lines:
			p.dropped.Add(1)
		default:
		}
	}
}

func (p *LinePort) Address() string { return p.addr }

func (p *LinePort) ReadLine() string {
	if p.closed.Load() {
		return ""
	}
	select {
	case line := <-p.lines:
		return line
	default:
		return ""
	}
}

func (p *LinePort) WriteLine(s string) error {
	if !p.IsOpen() {
		return ErrClosed
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if _, err := io.WriteString(p.rwc, s+"\r\n"); err != nil {
		p.setErr(fmt.Errorf("write: %w", err))
		return err
	}
	return nil
}

// ResetInput discards every queued line.
func (p *LinePort) ResetInput() {
	for {
		select {
		case <-p.lines:
		default:
			return
		}
	}
}

// IsOpen is false after Close, and after the stream ended once the queued
// lines have been consumed.
func (p *LinePort) IsOpen() bool {
	if p.closed.Load() {
		return false
	}
	if p.eof.Load() && len(p.lines) == 0 {
		return false
	}
	return true
}

func (p *LinePort) Claim(ctx context.Context) (func(), error) {
	select {
	case p.claim <- struct{}{}:
	case <-ctx.Done():
		return func() {}, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-p.claim }) }, nil
}

func (p *LinePort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		err = p.rwc.Close()
	})
	return err
}

// Done is closed when the reader goroutine has exited.
func (p *LinePort) Done() <-chan struct{} { return p.done }

// Dropped counts lines discarded because nobody read them in time.
func (p *LinePort) Dropped() uint64 { return p.dropped.Load() }

func (p *LinePort) LastError() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.lastErr
}

func (p *LinePort) setErr(err error) {
	p.errMu.Lock()
	p.lastErr = err
	p.errMu.Unlock()
}
