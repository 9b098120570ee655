// Package udp forwards raw receiver sentences to a UDP listener, so tools
// that expect a network NMEA feed can share one receiver.
package udp

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync/atomic"

	"gnssmon/internal/events"
)

type udpConn interface {
	io.Writer
	io.Closer
}

type (
	resolveFunc func(network, address string) (*net.UDPAddr, error)
	dialFunc    func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)
)

// Forwarder writes one datagram per sentence, terminated with CRLF.
type Forwarder struct {
	dest string
	conn udpConn

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewForwarder(dest string) (*Forwarder, error) {
	return newForwarder(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newForwarder(dest string, resolve resolveFunc, dial dialFunc) (*Forwarder, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Forwarder{dest: dest, conn: conn}, nil
}

func (f *Forwarder) Dest() string { return f.dest }

// Send writes one sentence. Empty lines are skipped.
func (f *Forwarder) Send(line string) error {
	if line == "" {
		return nil
	}
	if _, err := f.conn.Write([]byte(line + "\r\n")); err != nil {
		f.failed.Add(1)
		return err
	}
	f.sent.Add(1)
	return nil
}

// Run forwards every line event until ctx is done. Write errors are logged
// once until a write succeeds again; a missing listener is not fatal.
func (f *Forwarder) Run(ctx context.Context, sub events.Subscriber) error {
	log.Printf("udp forwarder started dest=%s", f.dest)
	failing := false
	return events.Consume(ctx, sub, 512, func(ev events.Event) {
		if ev.Kind != events.KindLine {
			return
		}
		if err := f.Send(ev.Line); err != nil {
			if !failing {
				log.Printf("udp send failed dest=%s err=%v", f.dest, err)
			}
			failing = true
			return
		}
		failing = false
	})
}

// Counts returns datagrams sent and failed.
func (f *Forwarder) Counts() (sent, failed uint64) {
	return f.sent.Load(), f.failed.Load()
}

func (f *Forwarder) Close() error {
	if f.conn == nil {
		return nil
	}
	return f.conn.Close()
}
