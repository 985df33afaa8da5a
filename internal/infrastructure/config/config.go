package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// maxReconnectDelay is the modulus of the reconnect backoff.
const maxReconnectDelay = 15 * time.Minute

// Config is the root configuration structure for the bridge daemon.
// Configuration is loaded from defaults, an optional YAML file, an optional
// dotenv file, environment variables and finally command-line flags.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Stats    StatsConfig    `yaml:"stats"`
	Command  CommandConfig  `yaml:"command"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Bus      BusConfig      `yaml:"bus"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Debug forces debug logging, including paho's debug output.
	Debug bool `yaml:"debug"`
}

// DeviceConfig identifies this device. Topic names derive from these values.
type DeviceConfig struct {
	Serial string `yaml:"serial"`
	Venue  string `yaml:"venue"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	TLS       MQTTTLSConfig       `yaml:"tls"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// KeepAlive is the MQTT keepalive interval.
	KeepAlive time.Duration `yaml:"keepalive"`

	// ConnectTimeout bounds a single connect attempt and is the delay
	// before reconnecting after an established session drops.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ServiceInterval is the period of the broker service tick.
	ServiceInterval time.Duration `yaml:"service_interval"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ClientID defaults to the device serial when empty.
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
// Credentials are only sent when both are set.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTTLSConfig contains broker TLS settings.
type MQTTTLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// CAFile is the PEM certificate used to verify the broker.
	CAFile string `yaml:"ca_file"`

	// SelfSigned accepts a broker certificate that does not verify.
	SelfSigned bool `yaml:"self_signed"`
}

// MQTTReconnectConfig contains reconnection backoff settings.
type MQTTReconnectConfig struct {
	// BaseDelay is the initial reconnect delay and the value it resets to
	// on every successful connect.
	BaseDelay time.Duration `yaml:"base_delay"`
}

// StatsConfig contains the stats collector settings.
type StatsConfig struct {
	// Program is run without arguments to refresh File.
	Program string `yaml:"program"`

	// File is the scratch file the collector writes its JSON object to.
	File string `yaml:"file"`

	// Interval is the period between collections while connected.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds a single collector run.
	Timeout time.Duration `yaml:"timeout"`
}

// CommandConfig contains the command handler settings.
type CommandConfig struct {
	// Program is run with the path of the command scratch file.
	Program string `yaml:"program"`

	// Dir is where command scratch files are written.
	Dir string `yaml:"dir"`

	// Timeout bounds a single handler run.
	Timeout time.Duration `yaml:"timeout"`
}

// TasksConfig contains helper process scheduler settings.
type TasksConfig struct {
	// KillGrace is the time between SIGTERM and SIGKILL for a helper that
	// timed out or was cancelled.
	KillGrace time.Duration `yaml:"kill_grace"`
}

// BusConfig contains the local IPC bus (NATS) settings.
type BusConfig struct {
	URL string `yaml:"url"`

	// Object is the subject prefix; methods are "<object>.state" and
	// "<object>.publish", notifications "<object>.msg".
	Object string `yaml:"object"`

	// Name is the connection name reported to the NATS server.
	Name string `yaml:"name"`

	// RequestTimeout bounds how long a request waits for the event loop.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DatabaseConfig contains SQLite settings for the command audit log.
// An empty Path disables the audit log.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for the stats sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the local HTTP server settings: Prometheus metrics,
// health and the audit log. An empty Listen disables the server.
type APIConfig struct {
	Listen      string `yaml:"listen"`
	MetricsPath string `yaml:"metrics_path"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Override mutates a loaded configuration. Command-line flags are applied
// through overrides after environment variables.
type Override func(*Config)

// Load builds the configuration.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values, if path is not empty
//  3. Dotenv file, if envFile is not empty (never overrides the real environment)
//  4. Environment variables: UCENTRAL_SECTION_KEY
//  5. Overrides, in order
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//   - envFile: Path to a dotenv file, or ""
//   - overrides: Final adjustments, typically from command-line flags
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If a file cannot be read or parsed, or validation fails
func Load(path, envFile string, overrides ...Override) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the daemon's built-in defaults.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Serial: "001122334455",
			Venue:  "uSync",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 8883,
			},
			Auth: MQTTAuthConfig{
				Username: "test",
				Password: "test",
			},
			TLS: MQTTTLSConfig{
				Enabled:    true,
				CAFile:     "/etc/usync/mqtt.crt",
				SelfSigned: true,
			},
			Reconnect: MQTTReconnectConfig{
				BaseDelay: 30 * time.Second,
			},
			KeepAlive:       60 * time.Second,
			ConnectTimeout:  60 * time.Second,
			ServiceInterval: 100 * time.Millisecond,
		},
		Stats: StatsConfig{
			Program:  "/usr/sbin/usync_stats.sh",
			File:     "/tmp/usync.stats",
			Interval: 60 * time.Second,
			Timeout:  10 * time.Second,
		},
		Command: CommandConfig{
			Program: "/usr/sbin/usync_cmd.sh",
			Dir:     "/tmp",
			Timeout: 15 * time.Second,
		},
		Tasks: TasksConfig{
			KillGrace: 5 * time.Second,
		},
		Bus: BusConfig{
			URL:            "nats://127.0.0.1:4222",
			Object:         "mqtt",
			Name:           "ucentral-mqtt",
			RequestTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			MetricsPath:  "/metrics",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: UCENTRAL_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	// Device
	str("UCENTRAL_SERIAL", &cfg.Device.Serial)
	str("UCENTRAL_VENUE", &cfg.Device.Venue)

	// MQTT
	str("UCENTRAL_MQTT_HOST", &cfg.MQTT.Broker.Host)
	if v := os.Getenv("UCENTRAL_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("UCENTRAL_MQTT_PORT: %w", err))
		} else {
			cfg.MQTT.Broker.Port = port
		}
	}
	str("UCENTRAL_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	str("UCENTRAL_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)
	str("UCENTRAL_MQTT_CA_FILE", &cfg.MQTT.TLS.CAFile)
	boolean("UCENTRAL_MQTT_SELF_SIGNED", &cfg.MQTT.TLS.SelfSigned)

	// Bus
	str("UCENTRAL_BUS_URL", &cfg.Bus.URL)

	// Database
	str("UCENTRAL_DATABASE_PATH", &cfg.Database.Path)

	// InfluxDB
	str("UCENTRAL_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// API
	str("UCENTRAL_API_LISTEN", &cfg.API.Listen)

	// Logging
	str("UCENTRAL_LOG_LEVEL", &cfg.Logging.Level)
	boolean("UCENTRAL_DEBUG", &cfg.Debug)

	return errors.Join(errs...)
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	if c.Device.Serial == "" {
		errs = append(errs, "device.serial is required")
	}
	if c.Device.Venue == "" {
		errs = append(errs, "device.venue is required")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.KeepAlive <= 0 {
		errs = append(errs, "mqtt.keepalive must be positive")
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, "mqtt.connect_timeout must be positive")
	}
	if c.MQTT.ServiceInterval <= 0 {
		errs = append(errs, "mqtt.service_interval must be positive")
	}
	if c.MQTT.Reconnect.BaseDelay <= 0 || c.MQTT.Reconnect.BaseDelay >= maxReconnectDelay {
		errs = append(errs, "mqtt.reconnect.base_delay must be positive and below 15m")
	}

	// Helper validation
	if c.Stats.Program == "" {
		errs = append(errs, "stats.program is required")
	}
	if c.Stats.File == "" {
		errs = append(errs, "stats.file is required")
	}
	if c.Stats.Interval <= 0 {
		errs = append(errs, "stats.interval must be positive")
	}
	if c.Stats.Timeout <= 0 {
		errs = append(errs, "stats.timeout must be positive")
	}
	if c.Command.Program == "" {
		errs = append(errs, "command.program is required")
	}
	if c.Command.Dir == "" {
		errs = append(errs, "command.dir is required")
	}
	if c.Command.Timeout <= 0 {
		errs = append(errs, "command.timeout must be positive")
	}
	if c.Tasks.KillGrace <= 0 {
		errs = append(errs, "tasks.kill_grace must be positive")
	}

	// Bus validation
	if c.Bus.URL == "" {
		errs = append(errs, "bus.url is required")
	}
	if c.Bus.Object == "" {
		errs = append(errs, "bus.object is required")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// API validation
	if c.API.Listen != "" && !strings.HasPrefix(c.API.MetricsPath, "/") {
		errs = append(errs, "api.metrics_path must start with /")
	}

	// Logging validation
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ClientID returns the MQTT client identifier, defaulting to the device serial.
func (c *Config) ClientID() string {
	if c.MQTT.Broker.ClientID != "" {
		return c.MQTT.Broker.ClientID
	}
	return c.Device.Serial
}

// LogLevel returns the effective log level, honouring Debug.
func (c *Config) LogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.Logging.Level
}
