// Package mqttpub mirrors receiver events onto an MQTT broker, one topic per
// event kind under a configurable prefix.
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"gnssmon/internal/events"
)

const publishTimeout = 5 * time.Second

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte

	// Lines also publishes every raw sentence to <prefix>/line.
	Lines bool
}

// NewClient builds an auto-reconnecting paho client. It does not connect.
func NewClient(cfg Config) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(mqtt.Client) {
		log.Printf("mqtt connected broker=%s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("mqtt connection lost broker=%s err=%v", cfg.Broker, err)
	}
	return mqtt.NewClient(opts)
}

// Connect starts the connection and waits until it is up or ctx is done.
// The client keeps retrying in the background until then.
func Connect(ctx context.Context, client mqtt.Client) error {
	token := client.Connect()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publisher turns events into MQTT messages.
type Publisher struct {
	cfg    Config
	client Client

	published atomic.Uint64
	failed    atomic.Uint64
}

func New(cfg Config, client Client) *Publisher {
	cfg.TopicPrefix = strings.TrimRight(cfg.TopicPrefix, "/")
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "gnssmon"
	}
	if cfg.QoS > 2 {
		cfg.QoS = 0
	}
	return &Publisher{cfg: cfg, client: client}
}

func (p *Publisher) Topic(kind events.Kind) string {
	return p.cfg.TopicPrefix + "/" + string(kind)
}

// retained kinds describe current state, so late subscribers get the last one.
func retained(kind events.Kind) bool {
	return kind == events.KindTelemetry || kind == events.KindSatellites
}

// Handle publishes one event. Raw lines go out as plain text, everything
// else as the JSON-encoded event.
func (p *Publisher) Handle(ev events.Event) error {
	var payload []byte
	switch ev.Kind {
	case events.KindLine:
		if !p.cfg.Lines {
			return nil
		}
		payload = []byte(ev.Line)
	default:
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("mqtt: encode %s: %w", ev.Kind, err)
		}
		payload = b
	}

	topic := p.Topic(ev.Kind)
	token := p.client.Publish(topic, p.cfg.QoS, retained(ev.Kind), payload)
	if !token.WaitTimeout(publishTimeout) {
		p.failed.Add(1)
		return fmt.Errorf("mqtt: publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	p.published.Add(1)
	return nil
}

// Run publishes hub events until ctx is done. Publish errors are logged, at
// most one line per kind until a publish of that kind succeeds again.
func (p *Publisher) Run(ctx context.Context, sub events.Subscriber) error {
	log.Printf("mqtt publisher started prefix=%s qos=%d lines=%v", p.cfg.TopicPrefix, p.cfg.QoS, p.cfg.Lines)
	failing := make(map[events.Kind]bool)
	return events.Consume(ctx, sub, 256, func(ev events.Event) {
		if err := p.Handle(ev); err != nil {
			if !failing[ev.Kind] {
				log.Printf("mqtt publish failed kind=%s err=%v", ev.Kind, err)
			}
			failing[ev.Kind] = true
			return
		}
		failing[ev.Kind] = false
	})
}

// Counts returns messages published and failed.
func (p *Publisher) Counts() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}
