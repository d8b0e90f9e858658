package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for i2c2mqtt.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bus      BusConfig      `yaml:"bus"`
	Poll     PollConfig     `yaml:"poll"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BusConfig describes the I2C bus and the expander devices on it.
type BusConfig struct {
	// Name is the periph.io bus name or number (e.g. "1" for /dev/i2c-1).
	Name string `yaml:"name"`

	// Addresses lists the 7-bit expander addresses in channel order.
	// Channel numbering follows this order, so it must not change between
	// deployments without remapping subscribers.
	Addresses []uint16 `yaml:"addresses"`
}

// PollConfig contains poll loop timing and read retry settings.
type PollConfig struct {
	IntervalMS       int `yaml:"interval_ms"`
	ReadRetries      int `yaml:"read_retries"`
	ReadRetryDelayMS int `yaml:"read_retry_delay_ms"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	BaseTopic string              `yaml:"base_topic"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
// Delays are in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	Rate         int `yaml:"rate"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for transition telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig contains Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: I2C2MQTT_SECTION_KEY
// For example: I2C2MQTT_MQTT_HOST, I2C2MQTT_BUS_ADDRESSES
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			Name:      "1",
			Addresses: []uint16{0x20, 0x21},
		},
		Poll: PollConfig{
			IntervalMS:       100,
			ReadRetries:      3,
			ReadRetryDelayMS: 50,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			BaseTopic: "Apartment/Window/Alarm",
			QoS:       0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				Rate:         2,
				MaxAttempts:  12,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Listen: ":9100",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: I2C2MQTT_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Bus
	if v := os.Getenv("I2C2MQTT_BUS_NAME"); v != "" {
		cfg.Bus.Name = v
	}
	if v := os.Getenv("I2C2MQTT_BUS_ADDRESSES"); v != "" {
		addrs, err := parseAddresses(v)
		if err != nil {
			return fmt.Errorf("I2C2MQTT_BUS_ADDRESSES: %w", err)
		}
		cfg.Bus.Addresses = addrs
	}

	// MQTT
	if v := os.Getenv("I2C2MQTT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("I2C2MQTT_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("I2C2MQTT_MQTT_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("I2C2MQTT_MQTT_BASE_TOPIC"); v != "" {
		cfg.MQTT.BaseTopic = v
	}
	if v := os.Getenv("I2C2MQTT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("I2C2MQTT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("I2C2MQTT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	return nil
}

// parseAddresses parses a comma-separated list of device addresses.
// Hex (0x20), octal (0o40) and decimal forms are accepted.
func parseAddresses(s string) ([]uint16, error) {
	parts := strings.Split(s, ",")
	addrs := make([]uint16, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseUint(p, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", p, err)
		}
		addrs = append(addrs, uint16(v))
	}
	return addrs, nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Bus validation
	if c.Bus.Name == "" {
		errs = append(errs, "bus.name is required")
	}
	if len(c.Bus.Addresses) == 0 {
		errs = append(errs, "bus.addresses must list at least one device")
	}
	seen := make(map[uint16]bool, len(c.Bus.Addresses))
	for _, a := range c.Bus.Addresses {
		// 7-bit addressing; 0x00-0x07 and 0x78-0x7F are reserved.
		if a < 0x08 || a > 0x77 {
			errs = append(errs, fmt.Sprintf("bus.addresses: 0x%02x is outside the 7-bit device range", a))
		}
		if seen[a] {
			errs = append(errs, fmt.Sprintf("bus.addresses: 0x%02x listed twice", a))
		}
		seen[a] = true
	}

	// Poll validation
	if c.Poll.IntervalMS <= 0 {
		errs = append(errs, "poll.interval_ms must be positive")
	}
	if c.Poll.ReadRetries < 0 {
		errs = append(errs, "poll.read_retries cannot be negative")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.BaseTopic == "" {
		errs = append(errs, "mqtt.base_topic is required")
	}
	if strings.ContainsAny(c.MQTT.BaseTopic, "+#") {
		errs = append(errs, "mqtt.base_topic cannot contain wildcards")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.InitialDelay <= 0 {
		errs = append(errs, "mqtt.reconnect.initial_delay must be positive")
	}
	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must be at least initial_delay")
	}
	if c.MQTT.Reconnect.Rate < 1 {
		errs = append(errs, "mqtt.reconnect.rate must be at least 1")
	}
	if c.MQTT.Reconnect.MaxAttempts < 1 {
		errs = append(errs, "mqtt.reconnect.max_attempts must be at least 1")
	}

	// InfluxDB validation (only when enabled)
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// Metrics validation (only when enabled)
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPollInterval returns the poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMS) * time.Millisecond
}

// GetReadRetryDelay returns the delay between device read retries as a Duration.
func (c *Config) GetReadRetryDelay() time.Duration {
	return time.Duration(c.Poll.ReadRetryDelayMS) * time.Millisecond
}

// ClientID returns the configured MQTT client ID, or one derived from the
// base topic ("Apartment/Window/Alarm" becomes "Apartment-Window-Alarm").
func (c MQTTConfig) ClientID() string {
	if c.Broker.ClientID != "" {
		return c.Broker.ClientID
	}
	return strings.ReplaceAll(c.BaseTopic, "/", "-")
}
