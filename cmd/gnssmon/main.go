package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"gnssmon/internal/command"
	"gnssmon/internal/config"
	"gnssmon/internal/events"
	"gnssmon/internal/gps"
	"gnssmon/internal/influx"
	"gnssmon/internal/mqttpub"
	"gnssmon/internal/record"
	"gnssmon/internal/replay"
	"gnssmon/internal/udp"
	"gnssmon/internal/web"
)

func main() {
	var configPath string
	var statsInterval time.Duration
	flag.StringVar(&configPath, "config", "./gnssmon.yaml", "Path to YAML config")
	flag.DurationVar(&statsInterval, "stats-interval", time.Minute, "Interval between stats log lines (0 disables)")
	flag.Parse()

	logs := web.NewLogBuffer(500)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	resolvedConfigPath := configPath
	if abs, err := filepath.Abs(configPath); err == nil {
		resolvedConfigPath = abs
	}
	cfg, err := config.Load(resolvedConfigPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, resolvedConfigPath, logs, statsInterval)
	cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("gnssmon failed: %v", err)
	}
	log.Printf("gnssmon stopped")
}

func run(ctx context.Context, cfg config.Config, configPath string, logs *web.LogBuffer, statsInterval time.Duration) (err error) {
	log.Printf("gnssmon starting config=%s", configPath)

	hub := events.NewHub()
	status := web.NewStatus()

	svc := gps.New(gps.Config{
		PollInterval:      cfg.GPS.PollInterval,
		SatelliteTTL:      cfg.GPS.SatelliteTTL,
		SatelliteInterval: cfg.GPS.SatelliteInterval,
		StrictChecksum:    cfg.GPS.Checksum == config.ChecksumStrict,
	}, hub)

	driver := command.NewDriver(nil, hub, command.Config{
		AckMarker:    cfg.Command.AckMarker,
		Timeout:      cfg.Command.Timeout,
		PollInterval: cfg.Command.PollInterval,
		MaxAttempts:  cfg.Command.MaxAttempts,
		Passthrough:  svc.HandleLine,
	})
	catalog := command.NewCatalog(cfg.Command.Presets)

	lk := newLink(cfg.Serial, svc, driver, status)
	if len(cfg.Command.Startup) > 0 {
		startup := append([]string(nil), cfg.Command.Startup...)
		lk.onConnect = func(ctx context.Context) {
			runStartup(ctx, driver, catalog, startup)
		}
	}

	rt := &runtime{cfg: cfg, link: lk, timeouts: driver, checksum: svc.Pipeline()}

	// Sinks are built first and started together, so a setup error leaves
	// nothing running.
	type runner func(ctx context.Context) error
	var runners []runner
	var sinkNames []string
	var counters []sinkCounter

	var store *record.Store
	if cfg.Record.Enable {
		store = record.NewStore(cfg.Record.Path)
		if err := store.Init(); err != nil {
			return fmt.Errorf("record init: %w", err)
		}
		defer func() {
			err = multierr.Append(err, store.Close())
		}()
		status.SetDiskPath(filepath.Dir(cfg.Record.Path))
		sinkNames = append(sinkNames, "record")
		counters = append(counters, sinkCounter{name: "record", counts: store.Counts})
		runners = append(runners, func(ctx context.Context) error { return store.Run(ctx, hub) })
	}

	if cfg.Capture.Enable {
		capture, cerr := replay.CreateWriter(cfg.Capture.Path, time.Now())
		if cerr != nil {
			return fmt.Errorf("capture init: %w", cerr)
		}
		defer func() {
			err = multierr.Append(err, capture.Close())
		}()
		sinkNames = append(sinkNames, "capture")
		counters = append(counters, sinkCounter{name: "capture", counts: func() (uint64, uint64) { return capture.Lines(), 0 }})
		runners = append(runners, func(ctx context.Context) error {
			log.Printf("capture started path=%s", cfg.Capture.Path)
			return capture.Run(ctx, hub, clock.New(), time.Second)
		})
	}

	if cfg.MQTT.Enable {
		mcfg := mqttpub.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			Lines:       cfg.MQTT.Lines,
		}
		client := mqttpub.NewClient(mcfg)
		defer client.Disconnect(250)
		pub := mqttpub.New(mcfg, client)
		sinkNames = append(sinkNames, "mqtt")
		counters = append(counters, sinkCounter{name: "mqtt", counts: pub.Counts})
		runners = append(runners, func(ctx context.Context) error {
			if err := mqttpub.Connect(ctx, client); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return pub.Run(ctx, hub)
		})
	}

	if cfg.Influx.Enable {
		client, writer := influx.NewClient(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		defer client.Close()
		sink := influx.New(writer, influx.Config{Interval: cfg.Influx.Interval, Receiver: cfg.Serial.Address})
		sinkNames = append(sinkNames, "influx")
		counters = append(counters, sinkCounter{name: "influx", counts: sink.Counts})
		runners = append(runners, func(ctx context.Context) error { return sink.Run(ctx, hub) })
	}

	if cfg.UDP.Enable {
		fwd, ferr := udp.NewForwarder(cfg.UDP.Dest)
		if ferr != nil {
			return fmt.Errorf("udp forwarder init: %w", ferr)
		}
		defer func() {
			err = multierr.Append(err, fwd.Close())
		}()
		sinkNames = append(sinkNames, "udp")
		counters = append(counters, sinkCounter{name: "udp", counts: fwd.Counts})
		runners = append(runners, func(ctx context.Context) error { return fwd.Run(ctx, hub) })
	}
	status.SetSinks(sinkNames)

	g, gctx := errgroup.WithContext(ctx)
	if err := svc.Start(gctx); err != nil {
		return fmt.Errorf("gps start: %w", err)
	}
	defer svc.Close()
	for _, r := range runners {
		r := r
		g.Go(func() error { return r(gctx) })
	}

	console := web.NewConsole(500)
	g.Go(func() error { return console.Run(gctx, hub) })

	g.Go(func() error { return lk.Run(gctx) })

	if cfg.Web.Enable {
		deps := web.Deps{
			Status:   status,
			GPS:      svc,
			Commands: driver,
			Catalog:  catalog,
			Events:   hub,
			Console:  console,
			Settings: web.SettingsStore{ConfigPath: configPath, Apply: rt.Apply},
			Logs:     logs,
		}
		if store != nil {
			deps.Records = store
		}
		log.Printf("web listening on %s", cfg.Web.Listen)
		g.Go(func() error { return web.Serve(gctx, cfg.Web.Listen, deps) })
	}

	recordPath := ""
	if store != nil {
		recordPath = store.Path()
	}
	if statsInterval > 0 {
		g.Go(func() error {
			return logStats(gctx, clock.New(), statsInterval, func() statsInput {
				return statsInput{
					GPS:        svc.Status(),
					HubDropped: hub.Dropped(),
					Connects:   lk.Connects(),
					Sinks:      counters,
					RecordPath: recordPath,
				}
			})
		})
	}

	return g.Wait()
}
