package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"gnssmon/internal/events"
	"gnssmon/internal/transport"
)

const (
	DefaultAckMarker    = "$command"
	DefaultTimeout      = time.Second
	DefaultPollInterval = 10 * time.Millisecond
)

var (
	ErrNoPort      = errors.New("command: no receiver connected")
	ErrPortClosed  = errors.New("command: port closed")
	ErrMaxAttempts = errors.New("command: no acknowledgment within max attempts")
	ErrEmpty       = errors.New("command: empty command")
)

type State int

const (
	StateIdle State = iota
	StateSent
	StateWaitingAck
	StateAcked
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSent:
		return "sent"
	case StateWaitingAck:
		return "waiting_ack"
	case StateAcked:
		return "acked"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Publisher receives command lifecycle events. *events.Hub satisfies it.
type Publisher interface {
	Publish(ev events.Event)
}

type Config struct {
	// AckMarker prefixes every acknowledgment line.
	AckMarker string

	// Timeout is the per-attempt ACK wait used when a caller passes zero.
	Timeout time.Duration

	// PollInterval is the sleep between reads while waiting for an ACK.
	PollInterval time.Duration

	// RetryPause is an optional pause between a timeout and the resend.
	RetryPause time.Duration

	// MaxAttempts bounds sends per command. 0 retries until the port closes
	// or the context ends.
	MaxAttempts int

	// Passthrough receives every non-ACK line read while a command holds the
	// read path, so ingestion does not miss telemetry.
	Passthrough func(line string)

	Clock clock.Clock
}

// Result describes one acknowledged command.
type Result struct {
	Command   string `json:"command"`
	Ack       string `json:"ack"`
	Attempts  int    `json:"attempts"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type Status struct {
	State   string `json:"state"`
	Command string `json:"command,omitempty"`
	Attempt int    `json:"attempt,omitempty"`

	Sent   uint64 `json:"sent"`
	Resent uint64 `json:"resent"`
	Acked  uint64 `json:"acked"`

	LastAck   string `json:"last_ack,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Driver sends commands to the receiver and waits for their acknowledgment.
// Commands are issued one at a time.
type Driver struct {
	cfg Config
	clk clock.Clock
	pub Publisher

	// turn holds one token while a command owns the link.
	turn chan struct{}

	mu      sync.Mutex
	port    transport.Port
	timeout time.Duration
	state   State
	status  Status
}

func NewDriver(port transport.Port, pub Publisher, cfg Config) *Driver {
	if strings.TrimSpace(cfg.AckMarker) == "" {
		cfg.AckMarker = DefaultAckMarker
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Driver{
		cfg:     cfg,
		clk:     cfg.Clock,
		pub:     pub,
		port:    port,
		timeout: cfg.Timeout,
		turn:    make(chan struct{}, 1),
	}
}

// SetTimeout changes the default per-attempt ACK wait. Non-positive values
// are ignored.
func (d *Driver) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	d.mu.Lock()
	d.timeout = timeout
	d.mu.Unlock()
}

func (d *Driver) defaultTimeout() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timeout
}

// SetPort swaps the link after a reconnect. nil detaches the driver.
func (d *Driver) SetPort(p transport.Port) {
	d.mu.Lock()
	d.port = p
	d.mu.Unlock()
}

func (d *Driver) currentPort() transport.Port {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port
}

// IsAck reports whether line acknowledges cmd.
func IsAck(line, marker, cmd string) bool {
	return strings.HasPrefix(line, marker) && strings.Contains(line, cmd)
}

// SendAndWaitForAck writes text and waits up to timeout for a line that starts
// with the ACK marker and contains text. Without one the whole cycle repeats:
// clear input, resend, wait. It returns once acknowledged, when ctx ends, when
// the port closes, or after MaxAttempts sends when that is set. A caller
// queued behind another command gives up when its ctx ends, without sending.
func (d *Driver) SendAndWaitForAck(ctx context.Context, text string, timeout time.Duration) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrEmpty
	}
	if timeout <= 0 {
		timeout = d.defaultTimeout()
	}

	select {
	case d.turn <- struct{}{}:
	case <-ctx.Done():
		return Result{Command: text}, ctx.Err()
	}
	defer func() { <-d.turn }()

	port := d.currentPort()
	if port == nil {
		return Result{}, ErrNoPort
	}
	if !port.IsOpen() {
		return Result{}, ErrPortClosed
	}

	release, err := port.Claim(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()
	defer d.setState(StateIdle, "", 0)

	start := d.clk.Now()
	for attempt := 1; ; attempt++ {
		if d.cfg.MaxAttempts > 0 && attempt > d.cfg.MaxAttempts {
			d.setError(fmt.Sprintf("no ack for %q after %d attempts", text, d.cfg.MaxAttempts))
			return Result{Command: text, Attempts: attempt - 1}, ErrMaxAttempts
		}
		if err := ctx.Err(); err != nil {
			return Result{Command: text, Attempts: attempt - 1}, err
		}
		if !port.IsOpen() {
			return Result{Command: text, Attempts: attempt - 1}, ErrPortClosed
		}

		port.ResetInput()
		if err := port.WriteLine(text); err != nil {
			d.setError(fmt.Sprintf("write %q: %v", text, err))
			if !port.IsOpen() || errors.Is(err, transport.ErrClosed) {
				return Result{Command: text, Attempts: attempt - 1}, ErrPortClosed
			}
			return Result{Command: text, Attempts: attempt - 1}, fmt.Errorf("command: write %q: %w", text, err)
		}
		d.sent(text, attempt)
		d.setState(StateWaitingAck, text, attempt)

		ack, err := d.waitAck(ctx, port, text, timeout)
		if err != nil {
			return Result{Command: text, Attempts: attempt}, err
		}
		if ack != "" {
			res := Result{
				Command:   text,
				Ack:       ack,
				Attempts:  attempt,
				ElapsedMS: d.clk.Since(start).Milliseconds(),
			}
			d.acked(res)
			return res, nil
		}

		d.setState(StateTimedOut, text, attempt)
		log.Printf("command timeout cmd=%q attempt=%d timeout=%s", text, attempt, timeout)
		if d.cfg.RetryPause > 0 {
			if err := d.sleep(ctx, port, d.cfg.RetryPause); err != nil {
				return Result{Command: text, Attempts: attempt}, err
			}
		}
	}
}

// waitAck polls the port until an ACK arrives (returned), timeout elapses
// ("" and nil), or the wait is aborted (error). Liveness is checked on every
// poll.
func (d *Driver) waitAck(ctx context.Context, port transport.Port, text string, timeout time.Duration) (string, error) {
	deadline := d.clk.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !port.IsOpen() {
			return "", ErrPortClosed
		}

		line := port.ReadLine()
		if line != "" {
			if IsAck(line, d.cfg.AckMarker, text) {
				return line, nil
			}
			if d.cfg.Passthrough != nil {
				d.cfg.Passthrough(line)
			}
		}
		if !d.clk.Now().Before(deadline) {
			return "", nil
		}
		if line != "" {
			continue
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-d.clk.After(d.cfg.PollInterval):
		}
	}
}

func (d *Driver) sleep(ctx context.Context, port transport.Port, dur time.Duration) error {
	deadline := d.clk.Now().Add(dur)
	for d.clk.Now().Before(deadline) {
		if !port.IsOpen() {
			return ErrPortClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.clk.After(d.cfg.PollInterval):
		}
	}
	return nil
}

// RunBatch sends cmds in order; command N+1 is only sent after N was
// acknowledged. It stops at the first failure and returns the results so far.
func (d *Driver) RunBatch(ctx context.Context, cmds []string, timeout time.Duration) ([]Result, error) {
	out := make([]Result, 0, len(cmds))
	for i, cmd := range cmds {
		res, err := d.SendAndWaitForAck(ctx, cmd, timeout)
		if err != nil {
			return out, fmt.Errorf("batch step %d/%d %q: %w", i+1, len(cmds), cmd, err)
		}
		out = append(out, res)
	}
	return out, nil
}

func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.status
	st.State = d.state.String()
	return st
}

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(s State, cmd string, attempt int) {
	d.mu.Lock()
	d.state = s
	d.status.Command = cmd
	d.status.Attempt = attempt
	d.mu.Unlock()
}

func (d *Driver) setError(msg string) {
	d.mu.Lock()
	d.status.LastError = msg
	d.mu.Unlock()
}

func (d *Driver) sent(text string, attempt int) {
	kind := events.KindCommandSent
	d.mu.Lock()
	d.state = StateSent
	d.status.Command = text
	d.status.Attempt = attempt
	if attempt == 1 {
		d.status.Sent++
	} else {
		d.status.Resent++
		kind = events.KindCommandResent
	}
	d.mu.Unlock()

	if attempt > 1 {
		log.Printf("command resent cmd=%q attempt=%d", text, attempt)
	} else {
		log.Printf("command sent cmd=%q", text)
	}
	d.publish(events.Event{Kind: kind, Line: text, Payload: map[string]any{"attempt": attempt}})
}

func (d *Driver) acked(res Result) {
	d.mu.Lock()
	d.state = StateAcked
	d.status.Acked++
	d.status.LastAck = res.Ack
	d.status.LastError = ""
	d.mu.Unlock()

	log.Printf("command acked cmd=%q attempts=%d elapsed_ms=%d", res.Command, res.Attempts, res.ElapsedMS)
	d.publish(events.Event{Kind: events.KindCommandAcked, Line: res.Ack, Payload: res})
}

func (d *Driver) publish(ev events.Event) {
	if d.pub == nil {
		return
	}
	ev.Time = d.clk.Now().UTC()
	d.pub.Publish(ev)
}
