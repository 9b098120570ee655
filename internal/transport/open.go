package transport

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	DefaultBaud     = 9600
	DefaultGPSDAddr = "127.0.0.1:2947"

	dialTimeout = 2 * time.Second
)

// Open connects to a receiver.
//
// Supported addresses:
//
//	/dev/ttyUSB0, COM3, serial:///dev/ttyACM0  serial device at baud
//	tcp://host:port                             raw NMEA socket (ser2net and friends)
//	gpsd://host:port                            gpsd with an NMEA watch
//	file:///path/to/log.nmea?interval=100ms     replay of a captured log
//
// An empty address auto-detects a USB serial receiver.
func Open(address string, baud int) (Port, error) {
	address = strings.TrimSpace(address)
	if baud == 0 {
		baud = DefaultBaud
	}
	if address == "" {
		address = AutoDetect()
		if address == "" {
			return nil, fmt.Errorf("auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
		}
	}

	scheme, rest, hasScheme := strings.Cut(address, "://")
	if !hasScheme {
		return openSerialPort(address, baud)
	}
	switch strings.ToLower(scheme) {
	case "serial":
		return openSerialPort(rest, baud)
	case "tcp":
		return dialTCP(address, rest)
	case "gpsd":
		if rest == "" {
			rest = DefaultGPSDAddr
		}
		return dialGPSD(address, rest)
	case "file":
		u, err := url.Parse(address)
		if err != nil {
			return nil, fmt.Errorf("parse replay address: %w", err)
		}
		return openReplay(address, u)
	default:
		return nil, fmt.Errorf("unsupported transport %q", scheme)
	}
}

func openSerialPort(path string, baud int) (Port, error) {
	f, err := openSerial(path, baud)
	if err != nil {
		return nil, fmt.Errorf("open serial device=%s baud=%d: %w", path, baud, err)
	}
	return NewLinePort(path, f, 0), nil
}

func dialTCP(address, hostport string) (Port, error) {
	conn, err := net.DialTimeout("tcp", hostport, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", hostport, err)
	}
	return NewLinePort(address, conn, 0), nil
}

// dialGPSD asks gpsd to pass the receiver's raw NMEA through. gpsd also sends
// JSON banners ({"class":"VERSION",...}); those are not sentences and are
// ignored downstream.
func dialGPSD(address, hostport string) (Port, error) {
	conn, err := net.DialTimeout("tcp", hostport, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial gpsd %s: %w", hostport, err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte("?WATCH={\"enable\":true,\"nmea\":true};\n")); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gpsd watch: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})
	return NewLinePort(address, conn, 0), nil
}

// AutoDetect returns the first USB serial device present, or "".
func AutoDetect() string {
	for _, p := range Candidates() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Candidates lists the device paths AutoDetect probes, in order.
func Candidates() []string {
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	return candidates
}

// Available lists the candidate devices that exist right now.
func Available() []string {
	var out []string
	for _, p := range Candidates() {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}
