package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Device          DeviceConfig   `yaml:"device"`
	Devices         []DeviceSeed   `yaml:"devices"`
	Render          RenderConfig   `yaml:"render"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig      `yaml:"log"`
	Ledger          LedgerConfig   `yaml:"ledger"`
	API             APIConfig      `yaml:"api"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	Metrics         MetricsConfig  `yaml:"metrics"`
	Scripts         ScriptsConfig  `yaml:"scripts"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// DeviceConfig contains settings for the lamp's HTTP endpoint
type DeviceConfig struct {
	BaseURL        string   `yaml:"base_url"`
	RequestTimeout Duration `yaml:"request_timeout"` // Initial pull and push timeout
	ProbeInterval  Duration `yaml:"probe_interval"`
	ProbeTimeout   Duration `yaml:"probe_timeout"`
	PushDebounce   Duration `yaml:"push_debounce"`   // Quiet period before a settings push
	PushRateLimit  float64  `yaml:"push_rate_limit"` // Max pushes per second
}

// DeviceSeed is a statically known device added to the registry at startup
type DeviceSeed struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"` // WiFi or BLE
	Address   string `yaml:"address"`
}

// RenderConfig contains preview rendering settings
type RenderConfig struct {
	Pixels int   `yaml:"pixels"`
	FPS    int   `yaml:"fps"`
	Seed   int64 `yaml:"seed"` // 0 = seeded from time
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// LedgerConfig contains sync history settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// APIConfig contains control API server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig contains MQTT bridge settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// MetricsConfig contains prometheus settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ScriptsConfig contains Lua pattern script settings
type ScriptsConfig struct {
	Dir           string   `yaml:"dir"`
	Watch         bool     `yaml:"watch"`
	LoadTimeout   Duration `yaml:"load_timeout"`   // Max time to run a script's top level
	SampleTimeout Duration `yaml:"sample_timeout"` // Max time for one sample call
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadOrDefault loads the config file, falling back to defaults when it does not exist
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./lampyd.sqlite"
	}

	// Device defaults
	if cfg.Device.BaseURL == "" {
		cfg.Device.BaseURL = "http://lampy.local/api"
	}
	cfg.Device.BaseURL = strings.TrimRight(cfg.Device.BaseURL, "/")
	if cfg.Device.RequestTimeout == 0 {
		cfg.Device.RequestTimeout = Duration(10 * time.Second)
	}
	if cfg.Device.ProbeInterval == 0 {
		cfg.Device.ProbeInterval = Duration(10 * time.Second)
	}
	if cfg.Device.ProbeTimeout == 0 {
		cfg.Device.ProbeTimeout = Duration(3 * time.Second)
	}
	if cfg.Device.PushDebounce == 0 {
		cfg.Device.PushDebounce = Duration(100 * time.Millisecond)
	}
	if cfg.Device.PushRateLimit == 0 {
		cfg.Device.PushRateLimit = 20.0
	}

	// The reference deployment ships with three known lamps
	if len(cfg.Devices) == 0 {
		cfg.Devices = []DeviceSeed{
			{ID: "lampy-001", Name: "Lampy Living Room", Transport: "WiFi", Address: "192.168.1.100"},
			{ID: "lampy-002", Name: "Lampy Bedroom", Transport: "BLE", Address: "-45 dBm"},
			{ID: "lampy-003", Name: "Lampy Kitchen", Transport: "WiFi", Address: "192.168.1.102"},
		}
	}

	// Render defaults
	if cfg.Render.Pixels <= 0 {
		cfg.Render.Pixels = 72
	}
	if cfg.Render.FPS <= 0 {
		cfg.Render.FPS = 60
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 7
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}

	// Script defaults
	if cfg.Scripts.LoadTimeout == 0 {
		cfg.Scripts.LoadTimeout = Duration(2 * time.Second)
	}
	if cfg.Scripts.SampleTimeout == 0 {
		cfg.Scripts.SampleTimeout = Duration(20 * time.Millisecond)
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "lampyd"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "lampy"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// GetShutdownTimeout returns the shutdown timeout as time.Duration
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
