package gps

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"gnssmon/internal/events"
	"gnssmon/internal/transport"
)

const (
	DefaultPollInterval      = 40 * time.Millisecond
	DefaultSatelliteInterval = time.Second
)

// Config controls the ingestion service.
//
// All fields are optional; zero values take the defaults above.
type Config struct {
	// PollInterval is how long the reader sleeps when no line is waiting.
	// It bounds CPU use and how quickly a closed port is noticed.
	PollInterval time.Duration

	SatelliteTTL time.Duration

	// SatelliteInterval paces the periodic satellites event.
	SatelliteInterval time.Duration

	// StrictChecksum drops lines whose "*hh" suffix does not match.
	StrictChecksum bool

	// Clock is swapped for a mock in tests.
	Clock clock.Clock
}

type Status struct {
	Running   bool   `json:"running"`
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`

	Stats         Stats    `json:"stats"`
	Satellites    int      `json:"satellites"`
	PendingBursts []string `json:"pending_bursts,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// Service owns the read path of one receiver link and the state built from it.
type Service struct {
	cfg  Config
	clk  clock.Clock
	pub  Publisher
	pipe *Pipeline

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	port    transport.Port
	lastErr string
}

func New(cfg Config, pub Publisher) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SatelliteTTL <= 0 {
		cfg.SatelliteTTL = DefaultSatelliteTTL
	}
	if cfg.SatelliteInterval <= 0 {
		cfg.SatelliteInterval = DefaultSatelliteInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Service{
		cfg:  cfg,
		clk:  cfg.Clock,
		pub:  pub,
		pipe: NewPipeline(pub, cfg.SatelliteTTL, cfg.StrictChecksum),
	}
}

// Start begins the periodic satellites event. Ingestion itself runs in Run,
// once per connected port.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// Created here, not in the goroutine, so a mock clock sees it immediately.
	ticker := s.clk.Ticker(s.cfg.SatelliteInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-childCtx.Done():
				return
			case now := <-ticker.C:
				s.publishSatellites(now.UTC())
			}
		}
	}()
	return nil
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Service) publishSatellites(now time.Time) {
	store := s.pipe.Satellites()
	store.Prune(now, store.TTL())
	s.pub.Publish(events.Event{Kind: events.KindSatellites, Time: now, Payload: store.Snapshot()})
}

// Run reads lines from port until ctx is done or the port stops being open.
// It returns transport.ErrClosed in the latter case.
//
// Reads happen under the port's claim so that a command waiting for its
// acknowledgment is the only reader while it holds the claim.
func (s *Service) Run(ctx context.Context, port transport.Port) error {
	if port == nil {
		return fmt.Errorf("gps: port is nil")
	}
	s.setPort(port)
	defer s.setPort(nil)

	log.Printf("gps ingestion started addr=%s poll=%s", port.Address(), s.cfg.PollInterval)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !port.IsOpen() {
			log.Printf("gps ingestion stopped addr=%s: port closed", port.Address())
			s.setError(fmt.Sprintf("port closed addr=%s", port.Address()))
			return transport.ErrClosed
		}

		line, err := s.readLine(ctx, port)
		if err != nil {
			return err
		}
		if line != "" {
			s.pipe.HandleLine(s.clk.Now().UTC(), line)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clk.After(s.cfg.PollInterval):
		}
	}
}

// readLine takes the claim for a single read. While someone else holds it the
// wait is capped at one poll interval so a closed port is still noticed.
func (s *Service) readLine(ctx context.Context, port transport.Port) (string, error) {
	claimCtx, cancel := context.WithTimeout(ctx, s.cfg.PollInterval)
	defer cancel()
	release, err := port.Claim(claimCtx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", nil
		}
		return "", err
	}
	defer release()
	return port.ReadLine(), nil
}

// HandleLine feeds a line read by someone else (the command driver) into the
// pipeline.
func (s *Service) HandleLine(line string) {
	s.pipe.HandleLine(s.clk.Now().UTC(), line)
}

func (s *Service) Pipeline() *Pipeline { return s.pipe }

func (s *Service) Telemetry() Telemetry { return s.pipe.Aggregator().Snapshot() }

// Satellites returns the tracked satellites of one constellation, or all of
// them when c is empty.
// Satellites leaves out entries already past their TTL, even when no burst
// has arrived since to prune them.
func (s *Service) Satellites(c Constellation) []Satellite {
	return s.pipe.Satellites().SnapshotAt(c, s.clk.Now().UTC())
}

func (s *Service) Signal(c Constellation) SignalSummary {
	return SummarizeSignal(c, s.Satellites(c))
}

func (s *Service) Status() Status {
	if s == nil {
		return Status{}
	}
	s.mu.Lock()
	st := Status{
		Running:   s.cancel != nil,
		LastError: s.lastErr,
	}
	if s.port != nil {
		st.Address = s.port.Address()
		st.Connected = s.port.IsOpen()
	}
	s.mu.Unlock()

	st.Stats = s.pipe.Stats()
	st.Satellites = s.pipe.Satellites().Len()
	st.PendingBursts = s.pipe.PendingBursts()
	return st
}

func (s *Service) setPort(p transport.Port) {
	s.mu.Lock()
	s.port = p
	if p != nil {
		s.lastErr = ""
	}
	s.mu.Unlock()
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}
