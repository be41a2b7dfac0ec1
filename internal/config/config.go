// Package config loads remsync configuration using Viper.
//
// Precedence, lowest first: built-in defaults, the TOML config file,
// REMSYNC_* environment variables (REMSYNC_TRANSPORT_MAX_ATTEMPTS maps to
// transport.max_attempts).
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/remsync/internal/errors"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "REMSYNC"

// Config is the complete runtime configuration.
type Config struct {
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Credential CredentialConfig `mapstructure:"credential"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Log        LogConfig        `mapstructure:"log"`
}

// ProxyConfig controls the intercepting reverse proxy.
type ProxyConfig struct {
	Listen   string `mapstructure:"listen"`
	Upstream string `mapstructure:"upstream"`
}

// RemoteConfig describes the host application's API and the fixed
// metadata stamped on reminders this agent creates.
type RemoteConfig struct {
	APIBase          string `mapstructure:"api_base"`
	AppURL           string `mapstructure:"app_url"`
	ClientAPIVersion string `mapstructure:"client_api_version"`
	CreatedBy        string `mapstructure:"created_by"`
	TenantID         string `mapstructure:"tenant_id"`
	Description      string `mapstructure:"description"`
	EmailSendMode    int    `mapstructure:"email_send_mode"`
}

// TransportConfig bounds every remote call.
type TransportConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// CredentialConfig lists where the session token may be found.
type CredentialConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	MaxWait       time.Duration `mapstructure:"max_wait"`
	Token         string        `mapstructure:"token"`
	File          string        `mapstructure:"file"`
	FileKey       string        `mapstructure:"file_key"`
	EnvelopeField string        `mapstructure:"envelope_field"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisKey      string        `mapstructure:"redis_key"`
}

// EngineConfig tunes the reconciliation engine's timers and date parsing.
type EngineConfig struct {
	Debounce     time.Duration `mapstructure:"debounce"`
	Settle       time.Duration `mapstructure:"settle"`
	JobFetchWait time.Duration `mapstructure:"job_fetch_wait"`
	CycleTimeout time.Duration `mapstructure:"cycle_timeout"`
	DateLayouts  []string      `mapstructure:"date_layouts"`
	Location     string        `mapstructure:"location"`
}

// NotifyConfig enables the redis notification queue when RedisAddr is set.
type NotifyConfig struct {
	RedisAddr string `mapstructure:"redis_addr"`
	RedisList string `mapstructure:"redis_list"`
}

// LogConfig selects the log encoder and level.
type LogConfig struct {
	JSON    bool `mapstructure:"json"`
	Verbose bool `mapstructure:"verbose"`
}

// Load reads configuration. An empty path searches ./remsync.toml and
// $HOME/.config/remsync/remsync.toml; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	} else if found := findConfig(); found != "" {
		v.SetConfigFile(found)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", found)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates configuration from v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := LoadWithViper(newViper())
	if err != nil {
		// defaults are static; failing here is a programming error
		panic(err)
	}
	return cfg
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Transport.MaxAttempts < 1 {
		return errors.Newf("transport.max_attempts must be >= 1 (got %d)", c.Transport.MaxAttempts)
	}
	if c.Transport.Timeout <= 0 {
		return errors.New("transport.timeout must be positive")
	}
	if c.Transport.BaseDelay < 0 {
		return errors.New("transport.base_delay must not be negative")
	}
	if c.Credential.Interval <= 0 || c.Credential.MaxWait <= 0 {
		return errors.New("credential.interval and credential.max_wait must be positive")
	}
	if c.Engine.Debounce < 0 || c.Engine.Settle < 0 {
		return errors.New("engine.debounce and engine.settle must not be negative")
	}
	if c.Engine.CycleTimeout <= 0 {
		return errors.New("engine.cycle_timeout must be positive")
	}
	if len(c.Engine.DateLayouts) == 0 {
		return errors.New("engine.date_layouts must not be empty")
	}
	if _, err := c.Engine.LoadLocation(); err != nil {
		return err
	}
	for name, raw := range map[string]string{
		"remote.api_base": c.Remote.APIBase,
		"remote.app_url":  c.Remote.AppURL,
		"proxy.upstream":  c.Proxy.Upstream,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.Newf("%s must be an absolute URL (got %q)", name, raw)
		}
	}
	return nil
}

// LoadLocation resolves Engine.Location; empty means the process local zone.
func (e EngineConfig) LoadLocation() (*time.Location, error) {
	if e.Location == "" || strings.EqualFold(e.Location, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(e.Location)
	if err != nil {
		return nil, errors.Wrapf(err, "engine.location %q", e.Location)
	}
	return loc, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

func findConfig() string {
	candidates := []string{"remsync.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "remsync", "remsync.toml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
