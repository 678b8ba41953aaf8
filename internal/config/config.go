package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ARI    ARIConfig    `yaml:"ari"`
	API    APIConfig    `yaml:"api"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Plans  PlansConfig  `yaml:"plans"`
	Dial   DialConfig   `yaml:"dial"`
	Events EventsConfig `yaml:"events"`
	Reaper ReaperConfig `yaml:"reaper"`
}

type ARIConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	App      string `yaml:"app"`
}

type APIConfig struct {
	Bind string `yaml:"bind"`
}

// MQTTConfig configures the call lifecycle egress. An empty broker
// disables publishing entirely.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type PlansConfig struct {
	Dir     string `yaml:"dir"`
	Default string `yaml:"default"`
}

type DialConfig struct {
	Gate           string `yaml:"gate"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type EventsConfig struct {
	QueueSize int `yaml:"queue_size"`
}

type ReaperConfig struct {
	GraceSeconds    int `yaml:"grace_seconds"`
	IntervalSeconds int `yaml:"interval_seconds"`
}

func (c *ARIConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// RESTURL returns the base URL for ARI REST calls.
func (c *ARIConfig) RESTURL() string {
	return fmt.Sprintf("http://%s/ari", c.Addr())
}

// EventsURL returns the WebSocket URL for the ARI event stream.
func (c *ARIConfig) EventsURL() string {
	return fmt.Sprintf("ws://%s/ari/events?api_key=%s:%s&app=%s&subscribeAll=true",
		c.Addr(), c.Username, c.Password, c.App)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{
		ARI: ARIConfig{
			Host: "127.0.0.1",
			Port: 8088,
			App:  "callflow",
		},
		API: APIConfig{
			Bind: "127.0.0.1:7005",
		},
		MQTT: MQTTConfig{
			ClientID:    "asterisk-callflow",
			TopicPrefix: "callflow",
		},
		Plans: PlansConfig{
			Dir:     "configs/plans",
			Default: "oper_client",
		},
		Dial: DialConfig{
			Gate:           "asterisk_extapi-1",
			TimeoutSeconds: 60,
		},
		Events: EventsConfig{
			QueueSize: 1024,
		},
		Reaper: ReaperConfig{
			GraceSeconds:    10,
			IntervalSeconds: 5,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ARI.Host == "" {
		return fmt.Errorf("ari.host is required")
	}
	if c.ARI.Port < 1 || c.ARI.Port > 65535 {
		return fmt.Errorf("ari.port must be between 1 and 65535, got %d", c.ARI.Port)
	}
	if c.ARI.Username == "" {
		return fmt.Errorf("ari.username is required")
	}
	if c.ARI.Password == "" {
		return fmt.Errorf("ari.password is required")
	}
	if c.ARI.App == "" {
		return fmt.Errorf("ari.app is required")
	}
	if c.API.Bind == "" {
		return fmt.Errorf("api.bind is required")
	}
	if c.MQTT.Broker != "" && c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt.client_id is required when mqtt.broker is set")
	}
	if c.MQTT.Broker != "" && c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topic_prefix is required when mqtt.broker is set")
	}
	if c.Plans.Dir == "" {
		return fmt.Errorf("plans.dir is required")
	}
	if c.Dial.Gate == "" {
		return fmt.Errorf("dial.gate is required")
	}
	if c.Dial.TimeoutSeconds < 1 {
		return fmt.Errorf("dial.timeout_seconds must be positive, got %d", c.Dial.TimeoutSeconds)
	}
	if c.Events.QueueSize < 1 {
		return fmt.Errorf("events.queue_size must be positive, got %d", c.Events.QueueSize)
	}
	if c.Reaper.GraceSeconds < 0 {
		return fmt.Errorf("reaper.grace_seconds must not be negative, got %d", c.Reaper.GraceSeconds)
	}
	if c.Reaper.IntervalSeconds < 1 {
		return fmt.Errorf("reaper.interval_seconds must be positive, got %d", c.Reaper.IntervalSeconds)
	}
	return nil
}
