package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/straightup/internal/sessionlog"
	"gopkg.in/yaml.v3"
)

// AppName names the data directory and the environment variable prefix.
const AppName = "straightup"

// Config holds application configuration
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Radio    RadioConfig    `yaml:"radio"`
	Session  SessionConfig  `yaml:"session"`
	History  HistoryConfig  `yaml:"history"`
	Settings SettingsConfig `yaml:"settings"`
	API      APIConfig      `yaml:"api"`
	Publish  PublishConfig  `yaml:"publish"`
	Bridge   BridgeConfig   `yaml:"bridge"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"text"` // text, json
}

// RadioConfig selects the BLE backend and, optionally, a non-stock wearable
// identity. Empty identity fields keep the stock firmware values.
type RadioConfig struct {
	Backend              string        `yaml:"backend" default:"goble"` // goble, gatt
	ConnectTimeout       time.Duration `yaml:"connect_timeout" default:"30s"`
	NamePattern          string        `yaml:"name_pattern"`
	ServiceUUID          string        `yaml:"service_uuid"`
	NotifyCharUUID       string        `yaml:"notify_char_uuid"`
	ConfigDescriptorUUID string        `yaml:"config_descriptor_uuid"`
}

type SessionConfig struct {
	UnsubscribeSettle time.Duration `yaml:"unsubscribe_settle" default:"200ms"`
	DisconnectSettle  time.Duration `yaml:"disconnect_settle" default:"300ms"`
	LogCapacity       int           `yaml:"log_capacity" default:"20"` // 1..20
}

// HistoryConfig selects the posture event store. For duckdb the DSN is a file
// path (default <data dir>/history.duckdb); for postgres it is required.
type HistoryConfig struct {
	Driver    string        `yaml:"driver" default:"duckdb"` // memory, duckdb, postgres
	DSN       string        `yaml:"dsn"`
	Retention time.Duration `yaml:"retention" default:"2160h"`
}

type SettingsConfig struct {
	Path string `yaml:"path"` // default <data dir>/settings.yaml
}

type APIConfig struct {
	Listen string `yaml:"listen" default:"127.0.0.1:8765"`
}

type PublishConfig struct {
	Driver   string `yaml:"driver" default:"none"` // none, nats, mqtt
	URL      string `yaml:"url"`
	Prefix   string `yaml:"prefix" default:"straightup"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos" default:"1"`
}

type BridgeConfig struct {
	Symlink string `yaml:"symlink"`
}

var (
	radioBackends   = []string{"goble", "gatt"}
	historyDrivers  = []string{"memory", "duckdb", "postgres"}
	publishDrivers  = []string{"none", "nats", "mqtt"}
	logFormats      = []string{"text", "json"}
	errMissingValue = errors.New("value is required")
)

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads filename over the defaults and applies environment overrides.
// An empty filename yields the defaults. Keys missing from the file keep
// their default values.
func Load(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies STRAIGHTUP_* environment variable overrides
func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		name string
		dst  *string
	}{
		{"STRAIGHTUP_LOG_LEVEL", &c.Log.Level},
		{"STRAIGHTUP_RADIO_BACKEND", &c.Radio.Backend},
		{"STRAIGHTUP_HISTORY_DRIVER", &c.History.Driver},
		{"STRAIGHTUP_HISTORY_DSN", &c.History.DSN},
		{"STRAIGHTUP_API_LISTEN", &c.API.Listen},
		{"STRAIGHTUP_PUBLISH_DRIVER", &c.Publish.Driver},
		{"STRAIGHTUP_PUBLISH_URL", &c.Publish.URL},
		{"STRAIGHTUP_PUBLISH_PASSWORD", &c.Publish.Password},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.name); v != "" {
			*o.dst = v
		}
	}
}

// Validate checks enumerations and required values.
func (c *Config) Validate() error {
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	checks := []struct {
		field   string
		value   string
		allowed []string
	}{
		{"log.format", c.Log.Format, logFormats},
		{"radio.backend", c.Radio.Backend, radioBackends},
		{"history.driver", c.History.Driver, historyDrivers},
		{"publish.driver", c.Publish.Driver, publishDrivers},
	}
	for _, chk := range checks {
		if !slices.Contains(chk.allowed, chk.value) {
			return fmt.Errorf("%s: unsupported value %q (expected one of %v)", chk.field, chk.value, chk.allowed)
		}
	}
	if c.History.Driver == "postgres" && c.History.DSN == "" {
		return fmt.Errorf("history.dsn: %w for the postgres driver", errMissingValue)
	}
	if c.Publish.Driver != "none" && c.Publish.URL == "" {
		return fmt.Errorf("publish.url: %w for the %s driver", errMissingValue, c.Publish.Driver)
	}
	if c.Session.LogCapacity <= 0 || c.Session.LogCapacity > sessionlog.DefaultCapacity {
		return fmt.Errorf("session.log_capacity: must be between 1 and %d, got %d", sessionlog.DefaultCapacity, c.Session.LogCapacity)
	}
	if c.History.Retention < 0 {
		return fmt.Errorf("history.retention: must not be negative, got %s", c.History.Retention)
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := c.LogLevel()
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
		return logger
	}
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

// DataDir is where the history database and settings live by default.
func DataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config dir: %w", err)
	}
	return filepath.Join(base, AppName), nil
}

// HistoryDSN resolves the store DSN, defaulting the duckdb file into DataDir.
func (c *Config) HistoryDSN() (string, error) {
	if c.History.DSN != "" || c.History.Driver != "duckdb" {
		return c.History.DSN, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.duckdb"), nil
}

// SettingsPath resolves the settings file, defaulting into DataDir.
func (c *Config) SettingsPath() (string, error) {
	if c.Settings.Path != "" {
		return c.Settings.Path, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.yaml"), nil
}
