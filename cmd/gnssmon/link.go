package main

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"gnssmon/internal/config"
	"gnssmon/internal/transport"
)

const minReconnectBackoff = 250 * time.Millisecond

type opener func(address string, baud int) (transport.Port, error)

// ingester reads one connected port until it closes or ctx ends.
type ingester interface {
	Run(ctx context.Context, port transport.Port) error
}

type portSetter interface {
	SetPort(p transport.Port)
}

type linkStatus interface {
	MarkConnected(nowUTC time.Time, address string, baud int)
	MarkDisconnected(err error)
}

// link keeps one receiver connection alive. It reopens the port with
// exponential backoff after failures and on Reconfigure.
type link struct {
	open   opener
	clk    clock.Clock
	ingest ingester
	driver portSetter
	status linkStatus

	// onConnect runs in its own goroutine after every successful open. Its
	// ctx ends with the connection.
	onConnect func(ctx context.Context)

	mu     sync.Mutex
	serial config.SerialConfig

	kick     chan struct{}
	connects atomic.Uint64
}

func newLink(serial config.SerialConfig, ingest ingester, driver portSetter, status linkStatus) *link {
	return &link{
		open:   transport.Open,
		clk:    clock.New(),
		ingest: ingest,
		driver: driver,
		status: status,
		serial: serial,
		kick:   make(chan struct{}, 1),
	}
}

func (l *link) current() config.SerialConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.serial
}

// Reconfigure switches to a new address or baud rate. The current connection,
// if any, is dropped and the new one is opened right away.
func (l *link) Reconfigure(serial config.SerialConfig) {
	l.mu.Lock()
	l.serial = serial
	l.mu.Unlock()
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	if max < minReconnectBackoff {
		max = minReconnectBackoff
	}
	cur *= 2
	if cur > max {
		cur = max
	}
	return cur
}

// wait sleeps for d. It reports false when ctx ended first; a Reconfigure
// cuts the sleep short.
func (l *link) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-l.kick:
		return true
	case <-l.clk.After(d):
		return true
	}
}

// Run supervises the link until ctx is done.
func (l *link) Run(ctx context.Context) error {
	backoff := minReconnectBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		serial := l.current()
		port, err := l.open(serial.Address, serial.Baud)
		if err != nil {
			l.status.MarkDisconnected(err)
			log.Printf("receiver open failed addr=%q retry_in=%s err=%v", serial.Address, backoff, err)
			if !l.wait(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, serial.ReconnectMax)
			continue
		}

		backoff = minReconnectBackoff
		reconfigured, err := l.serve(ctx, port, serial.Baud)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if reconfigured {
			l.status.MarkDisconnected(nil)
			log.Printf("receiver reconfigured, reopening")
			continue
		}
		l.status.MarkDisconnected(err)
		log.Printf("receiver disconnected addr=%s retry_in=%s err=%v", port.Address(), backoff, err)
		if !l.wait(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, serial.ReconnectMax)
	}
}

// serve runs ingestion on an open port and closes it afterwards. It reports
// whether the connection ended because of a Reconfigure.
func (l *link) serve(ctx context.Context, port transport.Port, baud int) (bool, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var kicked atomic.Bool
	go func() {
		select {
		case <-l.kick:
			kicked.Store(true)
			cancel()
		case <-runCtx.Done():
		}
	}()

	n := l.connects.Add(1)
	l.driver.SetPort(port)
	l.status.MarkConnected(l.clk.Now().UTC(), port.Address(), baud)
	log.Printf("receiver connected addr=%s baud=%d connects=%d", port.Address(), baud, n)
	if l.onConnect != nil {
		go l.onConnect(runCtx)
	}

	err := l.ingest.Run(runCtx, port)
	cancel()
	l.driver.SetPort(nil)
	if cerr := port.Close(); cerr != nil && !errors.Is(cerr, transport.ErrClosed) {
		log.Printf("receiver close addr=%s err=%v", port.Address(), cerr)
	}
	return kicked.Load(), err
}

// Connects returns how many times a port was opened.
func (l *link) Connects() uint64 { return l.connects.Load() }
