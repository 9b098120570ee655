package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"
	"sync"
	"time"

	"gnssmon/internal/command"
	"gnssmon/internal/config"
)

type batchRunner interface {
	RunBatch(ctx context.Context, cmds []string, timeout time.Duration) ([]command.Result, error)
}

type timeoutSetter interface {
	SetTimeout(timeout time.Duration)
}

type checksumSetter interface {
	SetStrictChecksum(strict bool)
}

type reconfigurer interface {
	Reconfigure(serial config.SerialConfig)
}

// runtime holds the live configuration and applies the subset of changes
// that do not need a restart.
type runtime struct {
	mu  sync.Mutex
	cfg config.Config

	link     reconfigurer
	timeouts timeoutSetter
	checksum checksumSetter
}

func (r *runtime) Config() config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// restartRequired names the first section of next that differs from cur in
// a way only a restart can pick up, or "".
func restartRequired(cur, next config.Config) string {
	switch {
	case cur.Web != next.Web:
		return "web"
	case cur.MQTT != next.MQTT:
		return "mqtt"
	case cur.Record != next.Record:
		return "record"
	case cur.Capture != next.Capture:
		return "capture"
	case cur.Influx != next.Influx:
		return "influx"
	case cur.UDP != next.UDP:
		return "udp"
	case cur.GPS.PollInterval != next.GPS.PollInterval,
		cur.GPS.SatelliteTTL != next.GPS.SatelliteTTL,
		cur.GPS.SatelliteInterval != next.GPS.SatelliteInterval:
		return "gps"
	case cur.Command.AckMarker != next.Command.AckMarker,
		cur.Command.MaxAttempts != next.Command.MaxAttempts,
		cur.Command.PollInterval != next.Command.PollInterval,
		!reflect.DeepEqual(cur.Command.Presets, next.Command.Presets),
		!reflect.DeepEqual(cur.Command.Startup, next.Command.Startup):
		return "command"
	}
	return ""
}

// Apply validates next and switches the running services over to it. On
// error nothing is changed.
func (r *runtime) Apply(next config.Config) error {
	c := next
	if err := config.DefaultAndValidate(&c); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if section := restartRequired(r.cfg, c); section != "" {
		return fmt.Errorf("%s settings require restart", section)
	}

	if c.GPS.Checksum != r.cfg.GPS.Checksum {
		r.checksum.SetStrictChecksum(c.GPS.Checksum == config.ChecksumStrict)
		log.Printf("gps checksum policy=%s", c.GPS.Checksum)
	}
	if c.Command.Timeout != r.cfg.Command.Timeout {
		r.timeouts.SetTimeout(c.Command.Timeout)
		log.Printf("command timeout=%s", c.Command.Timeout)
	}
	if c.Serial != r.cfg.Serial {
		log.Printf("serial settings changed addr=%q baud=%d", c.Serial.Address, c.Serial.Baud)
		r.link.Reconfigure(c.Serial)
	}
	r.cfg = c
	return nil
}

// runStartup sends the configured startup presets in order. A failing preset
// is logged and the rest still run.
func runStartup(ctx context.Context, runner batchRunner, catalog *command.Catalog, names []string) {
	for _, name := range names {
		cmds, ok := catalog.Commands(name)
		if !ok {
			log.Printf("startup preset unknown name=%s", name)
			continue
		}
		res, err := runner.RunBatch(ctx, cmds, 0)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("startup preset failed name=%s acked=%d/%d err=%v", name, len(res), len(cmds), err)
			continue
		}
		log.Printf("startup preset done name=%s commands=%s", name, strings.Join(cmds, "; "))
	}
}
