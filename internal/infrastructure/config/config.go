package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for doorbell-sync.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Poll      PollConfig      `yaml:"poll"`
	Provider  ProviderConfig  `yaml:"provider"`
	Updater   UpdaterConfig   `yaml:"updater"`
	History   HistoryConfig   `yaml:"history"`
}

// SiteConfig identifies this installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`

	// ShowDebug forces debug level regardless of Level.
	ShowDebug bool `yaml:"show_debug"`
}

// PollConfig controls the reconciliation loop.
type PollConfig struct {
	// Interval is the fixed pause between cycles.
	Interval time.Duration `yaml:"interval"`

	// MaxRetry is the consecutive-failure cap. 0 disables the breaker.
	MaxRetry int `yaml:"max_retry"`

	// Cooldown is how long reconciliation stays suspended once the breaker opens.
	Cooldown time.Duration `yaml:"cooldown"`

	// RestartCeiling is the number of device passes after which the loop restarts.
	RestartCeiling int `yaml:"restart_ceiling"`

	// UpdateFrequencyHours is the update-check period in hours; fractions
	// are allowed. <= 0 disables checks.
	UpdateFrequencyHours float64 `yaml:"update_frequency_hours"`
}

// ProviderConfig configures the MQTT gateway that fronts the remote provider.
type ProviderConfig struct {
	// TopicPrefix is the root of the gateway's topic tree.
	TopicPrefix string `yaml:"topic_prefix"`

	// RequestTimeout bounds login, command and recording lookups.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// EventWindow is how long pushed events stay in the recent-events buffer.
	EventWindow time.Duration `yaml:"event_window"`

	// MaxRecordings caps the eventID -> URL cache.
	MaxRecordings int `yaml:"max_recordings"`

	// StaleAfter marks the bridge unavailable when nothing has been heard
	// from it for this long. 0 disables the staleness check.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// UpdaterConfig configures the periodic update check.
type UpdaterConfig struct {
	// Command is run on each check. Empty means log-only.
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// HistoryConfig controls state-history retention.
type HistoryConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DOORBELLSYNC_SECTION_KEY
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

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Doorbell Sync",
		},
		Database: DatabaseConfig{
			Path:        "./data/doorbellsync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "doorbellsync",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Poll: PollConfig{
			Interval:             5 * time.Second,
			MaxRetry:             5,
			Cooldown:             10 * time.Hour,
			RestartCeiling:       10000,
			UpdateFrequencyHours: 24,
		},
		Provider: ProviderConfig{
			TopicPrefix:    "doorbellsync/provider",
			RequestTimeout: 10 * time.Second,
			EventWindow:    10 * time.Minute,
			MaxRecordings:  500,
		},
		Updater: UpdaterConfig{
			Timeout: 2 * time.Minute,
		},
		History: HistoryConfig{
			RetentionDays: 30,
		},
	}
}

// applyEnvOverrides applies DOORBELLSYNC_* environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DOORBELLSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("DOORBELLSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DOORBELLSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DOORBELLSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("DOORBELLSYNC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("DOORBELLSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("DOORBELLSYNC_POLL_MAX_RETRY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DOORBELLSYNC_POLL_MAX_RETRY must be an integer: %w", err)
		}
		cfg.Poll.MaxRetry = n
	}

	if v := os.Getenv("DOORBELLSYNC_LOG_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DOORBELLSYNC_LOG_DEBUG must be a boolean: %w", err)
		}
		cfg.Logging.ShowDebug = b
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Poll.Interval <= 0 {
		errs = append(errs, "poll.interval must be positive")
	}
	if c.Poll.MaxRetry < 0 {
		errs = append(errs, "poll.max_retry must be 0 (unlimited) or a positive integer")
	}
	if c.Poll.Cooldown <= 0 {
		errs = append(errs, "poll.cooldown must be positive")
	}
	if c.Poll.RestartCeiling <= 0 {
		errs = append(errs, "poll.restart_ceiling must be positive")
	}

	if c.Provider.TopicPrefix == "" || strings.ContainsAny(c.Provider.TopicPrefix, "+#") {
		errs = append(errs, "provider.topic_prefix must be a non-empty topic without wildcards")
	}
	if c.Provider.RequestTimeout <= 0 {
		errs = append(errs, "provider.request_timeout must be positive")
	}
	if c.Provider.StaleAfter < 0 {
		errs = append(errs, "provider.stale_after must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// UpdateInterval returns the update-check period, or 0 when checks are disabled.
func (p PollConfig) UpdateInterval() time.Duration {
	if p.UpdateFrequencyHours <= 0 {
		return 0
	}
	return time.Duration(p.UpdateFrequencyHours * float64(time.Hour))
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// HistoryRetention returns the state-history retention as a Duration.
// Zero disables pruning.
func (c *Config) HistoryRetention() time.Duration {
	if c.History.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}
