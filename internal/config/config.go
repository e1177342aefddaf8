// Package config loads terminal settings from a YAML file, POS_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	apperrors "github.com/tablepos/terminal/internal/errors"
	"github.com/tablepos/terminal/internal/outbox/persistence"
	"github.com/tablepos/terminal/internal/outbox/scheduler"
)

// EnvPrefix prefixes every environment override, e.g. POS_OUTBOX_BACKEND.
const EnvPrefix = "POS"

// Config holds the terminal configuration.
type Config struct {
	ListenAddress string             `mapstructure:"listen_address"`
	DataDir       string             `mapstructure:"data_dir"`
	LogLevel      string             `mapstructure:"log_level"`
	API           APIConfig          `mapstructure:"api"`
	Outbox        OutboxConfig       `mapstructure:"outbox"`
	Host          HostConfig         `mapstructure:"host"`
	Redis         RedisConfig        `mapstructure:"redis"`
	Connectivity  ConnectivityConfig `mapstructure:"connectivity"`
	Telemetry     TelemetryConfig    `mapstructure:"telemetry"`
}

// APIConfig points at the restaurant API.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OutboxConfig tunes the offline queue.
type OutboxConfig struct {
	Backend         string        `mapstructure:"backend"`
	Interval        time.Duration `mapstructure:"interval"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	ExecutorTimeout time.Duration `mapstructure:"executor_timeout"`
	Retention       time.Duration `mapstructure:"retention"`
	PersistMode     string        `mapstructure:"persist_mode"`
	EnforceBackoff  bool          `mapstructure:"enforce_backoff"`
	QueueKey        string        `mapstructure:"queue_key"`

	// EncryptionSecret seals file and redis snapshots. Usually supplied as
	// POS_OUTBOX_ENCRYPTION_SECRET rather than written to the config file.
	EncryptionSecret string `mapstructure:"encryption_secret"`
}

// HostConfig locates the desktop host serving the store endpoint.
type HostConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig is used by the redis backend.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ConnectivityConfig enables the HTTP prober. An empty ProbeURL leaves
// connectivity to host events.
type ConnectivityConfig struct {
	ProbeURL      string        `mapstructure:"probe_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// TelemetryConfig toggles in-process metrics.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var defaults = map[string]interface{}{
	"listen_address":              "127.0.0.1:8090",
	"data_dir":                    "./data",
	"log_level":                   "info",
	"api.base_url":                "http://127.0.0.1:3000/api",
	"api.timeout":                 "30s",
	"outbox.backend":              string(persistence.BackendSQLite),
	"outbox.interval":             "30s",
	"outbox.max_retries":          scheduler.DefaultMaxRetries,
	"outbox.retry_base_delay":     "1s",
	"outbox.executor_timeout":     "10s",
	"outbox.retention":            "168h",
	"outbox.persist_mode":         string(scheduler.PersistPerPass),
	"outbox.enforce_backoff":      true,
	"outbox.queue_key":            persistence.DefaultKey,
	"outbox.encryption_secret":    "",
	"host.url":                    "http://127.0.0.1:8090",
	"redis.address":               "127.0.0.1:6379",
	"redis.password":              "",
	"redis.db":                    0,
	"redis.prefix":                "pos",
	"connectivity.probe_url":      "",
	"connectivity.probe_interval": "15s",
	"telemetry.enabled":           false,
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"listen-address": "listen_address",
	"data-dir":       "data_dir",
	"log-level":      "log_level",
	"api-url":        "api.base_url",
	"outbox-backend": "outbox.backend",
	"persist-mode":   "outbox.persist_mode",
	"probe-url":      "connectivity.probe_url",
	"redis-address":  "redis.address",
	"enable-metrics": "telemetry.enabled",
}

// Flags returns the flag set understood by Load. Unset flags never override
// the file or the environment.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Path to a YAML config file")
	fs.String("listen-address", "", "Address of the local API")
	fs.String("data-dir", "", "Directory for the local database and files")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("api-url", "", "Base URL of the restaurant API")
	fs.String("outbox-backend", "", "Outbox persistence: host, sqlite, file or redis")
	fs.String("persist-mode", "", "Outbox persistence granularity: pass or item")
	fs.String("probe-url", "", "URL probed to detect connectivity")
	fs.String("redis-address", "", "Redis address for the redis backend")
	fs.Bool("enable-metrics", false, "Record outbox metrics in-process")
	return fs
}

// Load builds the configuration. path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.ListenAddress) == "" {
		return invalid("listen_address is required")
	}
	if err := absoluteURL("api.base_url", c.API.BaseURL); err != nil {
		return err
	}
	if c.API.Timeout <= 0 {
		return invalid("api.timeout must be positive")
	}

	backend := persistence.Backend(strings.ToLower(c.Outbox.Backend))
	if !backend.Valid() {
		return invalid("outbox.backend %q is not one of host, sqlite, file, redis", c.Outbox.Backend)
	}
	c.Outbox.Backend = string(backend)

	mode, err := scheduler.ParsePersistMode(c.Outbox.PersistMode)
	if err != nil {
		return err
	}
	c.Outbox.PersistMode = string(mode)

	if c.Outbox.Interval <= 0 {
		return invalid("outbox.interval must be positive")
	}
	if c.Outbox.MaxRetries < 1 {
		return invalid("outbox.max_retries must be at least 1")
	}
	if c.Outbox.RetryBaseDelay <= 0 {
		return invalid("outbox.retry_base_delay must be positive")
	}
	if c.Outbox.ExecutorTimeout <= 0 {
		return invalid("outbox.executor_timeout must be positive")
	}
	if c.Outbox.Retention <= 0 {
		return invalid("outbox.retention must be positive")
	}
	if strings.TrimSpace(c.Outbox.QueueKey) == "" {
		return invalid("outbox.queue_key is required")
	}

	if c.Outbox.EncryptionSecret != "" && backend != persistence.BackendFile && backend != persistence.BackendRedis {
		return invalid("outbox.encryption_secret is only supported by the file and redis backends")
	}

	switch backend {
	case persistence.BackendHost:
		if err := absoluteURL("host.url", c.Host.URL); err != nil {
			return err
		}
	case persistence.BackendRedis:
		if strings.TrimSpace(c.Redis.Address) == "" {
			return invalid("redis.address is required for the redis backend")
		}
	case persistence.BackendSQLite, persistence.BackendFile:
		if strings.TrimSpace(c.DataDir) == "" {
			return invalid("data_dir is required for the %s backend", backend)
		}
	}

	if c.Connectivity.ProbeURL != "" {
		if err := absoluteURL("connectivity.probe_url", c.Connectivity.ProbeURL); err != nil {
			return err
		}
		if c.Connectivity.ProbeInterval <= 0 {
			return invalid("connectivity.probe_interval must be positive")
		}
	}

	return nil
}

func absoluteURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("%s must be an absolute http(s) URL, got %q", key, raw))
	}
	return nil
}

// PersistenceSpec translates the outbox settings for persistence.Open.
func (c *Config) PersistenceSpec() persistence.Spec {
	return persistence.Spec{
		Backend:       persistence.Backend(c.Outbox.Backend),
		DataDir:       c.DataDir,
		HostURL:       c.Host.URL,
		RedisAddress:  c.Redis.Address,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
		RedisPrefix:   c.Redis.Prefix,

		EncryptionSecret: c.Outbox.EncryptionSecret,

		Options: persistence.Options{
			Key:       c.Outbox.QueueKey,
			Retention: c.Outbox.Retention,
		},
	}
}
