package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	GPS     GPSConfig     `yaml:"gps"`
	Command CommandConfig `yaml:"command"`
	Web     WebConfig     `yaml:"web"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Record  RecordConfig  `yaml:"record"`
	Capture CaptureConfig `yaml:"capture"`
	Influx  InfluxConfig  `yaml:"influx"`
	UDP     UDPConfig     `yaml:"udp"`
}

type SerialConfig struct {
	// Address is a device path, or a tcp://, gpsd:// or file:// URL.
	// Empty auto-detects a USB receiver.
	Address string `yaml:"address"`
	Baud    int    `yaml:"baud"`

	// ReconnectMax caps the backoff between reconnect attempts.
	ReconnectMax time.Duration `yaml:"reconnect_max"`
}

type GPSConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	SatelliteTTL      time.Duration `yaml:"satellite_ttl"`
	SatelliteInterval time.Duration `yaml:"satellite_interval"`

	// Checksum is "lenient" (never drop) or "strict" (drop mismatches).
	Checksum string `yaml:"checksum"`
}

type CommandConfig struct {
	Timeout      time.Duration       `yaml:"timeout"`
	AckMarker    string              `yaml:"ack_marker"`
	MaxAttempts  int                 `yaml:"max_attempts"`
	PollInterval time.Duration       `yaml:"poll_interval"`
	Presets      map[string][]string `yaml:"presets"`

	// Startup names presets sent once after every connect.
	Startup []string `yaml:"startup"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	Enable      bool   `yaml:"enable"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
	// Lines also publishes every raw sentence.
	Lines bool `yaml:"lines"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

// CaptureConfig appends every raw sentence, with its arrival time, to a log
// that a file:// address can replay.
type CaptureConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type InfluxConfig struct {
	Enable bool   `yaml:"enable"`
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
	// Interval paces telemetry points; snapshots arriving faster are coalesced.
	Interval time.Duration `yaml:"interval"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

const (
	ChecksumLenient = "lenient"
	ChecksumStrict  = "strict"
)

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills in defaults and rejects inconsistent values. It is
// idempotent, so a saved config can be run through it again.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	cfg.Serial.Address = strings.TrimSpace(cfg.Serial.Address)
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 9600
	}
	if cfg.Serial.Baud < 0 {
		return fmt.Errorf("serial.baud must be > 0")
	}
	if cfg.Serial.ReconnectMax <= 0 {
		cfg.Serial.ReconnectMax = 10 * time.Second
	}
	if scheme, _, ok := strings.Cut(cfg.Serial.Address, "://"); ok {
		switch strings.ToLower(scheme) {
		case "serial", "tcp", "gpsd", "file":
		default:
			return fmt.Errorf("serial.address scheme %q is not supported", scheme)
		}
		if _, err := url.Parse(cfg.Serial.Address); err != nil {
			return fmt.Errorf("serial.address: %w", err)
		}
	}

	// GPS ingestion defaults.
	if cfg.GPS.PollInterval <= 0 {
		cfg.GPS.PollInterval = 40 * time.Millisecond
	}
	if cfg.GPS.SatelliteTTL <= 0 {
		cfg.GPS.SatelliteTTL = 5 * time.Second
	}
	if cfg.GPS.SatelliteInterval <= 0 {
		cfg.GPS.SatelliteInterval = time.Second
	}
	cfg.GPS.Checksum = strings.ToLower(strings.TrimSpace(cfg.GPS.Checksum))
	if cfg.GPS.Checksum == "" {
		cfg.GPS.Checksum = ChecksumLenient
	}
	if cfg.GPS.Checksum != ChecksumLenient && cfg.GPS.Checksum != ChecksumStrict {
		return fmt.Errorf("gps.checksum must be 'lenient' or 'strict'")
	}

	// Command defaults.
	if cfg.Command.Timeout <= 0 {
		cfg.Command.Timeout = time.Second
	}
	if strings.TrimSpace(cfg.Command.AckMarker) == "" {
		cfg.Command.AckMarker = "$command"
	}
	if cfg.Command.PollInterval <= 0 {
		cfg.Command.PollInterval = 10 * time.Millisecond
	}
	if cfg.Command.MaxAttempts < 0 {
		return fmt.Errorf("command.max_attempts must be >= 0")
	}
	for name, cmds := range cfg.Command.Presets {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("command.presets has an empty name")
		}
		for _, c := range cmds {
			if strings.ContainsAny(c, "\r\n") {
				return fmt.Errorf("command.presets.%s contains a line break", name)
			}
		}
	}
	for _, name := range cfg.Command.Startup {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("command.startup has an empty preset name")
		}
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}

	if cfg.MQTT.Enable {
		if strings.TrimSpace(cfg.MQTT.Broker) == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "gnssmon"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "gnssmon"
	}
	cfg.MQTT.TopicPrefix = strings.TrimRight(cfg.MQTT.TopicPrefix, "/")

	if cfg.Record.Enable && strings.TrimSpace(cfg.Record.Path) == "" {
		return fmt.Errorf("record.path is required when record.enable is true")
	}

	if cfg.Capture.Enable && strings.TrimSpace(cfg.Capture.Path) == "" {
		return fmt.Errorf("capture.path is required when capture.enable is true")
	}

	if cfg.Influx.Enable {
		if strings.TrimSpace(cfg.Influx.URL) == "" {
			return fmt.Errorf("influx.url is required when influx.enable is true")
		}
		if strings.TrimSpace(cfg.Influx.Bucket) == "" {
			return fmt.Errorf("influx.bucket is required when influx.enable is true")
		}
	}
	if cfg.Influx.Interval <= 0 {
		cfg.Influx.Interval = time.Second
	}

	if cfg.UDP.Enable {
		if strings.TrimSpace(cfg.UDP.Dest) == "" {
			return fmt.Errorf("udp.dest is required when udp.enable is true")
		}
		if _, _, err := net.SplitHostPort(cfg.UDP.Dest); err != nil {
			return fmt.Errorf("udp.dest must be host:port: %w", err)
		}
	}

	return nil
}
