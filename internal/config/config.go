package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	State    StateConfig    `mapstructure:"state"`
	Bus      BusConfig      `mapstructure:"bus"`
	Context  ContextConfig  `mapstructure:"context"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type APIConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BaseURL       string `mapstructure:"base_url"`
	AccessToken   string `mapstructure:"access_token"`
	UserID        int64  `mapstructure:"user_id"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
}

type RealtimeConfig struct {
	TabID             string        `mapstructure:"tab_id"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	LeaseTTL          time.Duration `mapstructure:"lease_ttl"`
	BackoffFloor      time.Duration `mapstructure:"backoff_floor"`
	BackoffCap        time.Duration `mapstructure:"backoff_cap"`
	MaxRetries        int           `mapstructure:"max_retries"`
	FreshnessWindow   time.Duration `mapstructure:"freshness_window"`
}

// StateConfig locates the files shared by all tabs of a session.
type StateConfig struct {
	Directory  string `mapstructure:"directory"`
	LedgerPath string `mapstructure:"ledger_path"`
}

// BusConfig selects the cross-tab bus. An empty URL keeps the bus in-process.
type BusConfig struct {
	URL    string `mapstructure:"url"`
	Origin string `mapstructure:"origin"`
}

// ContextConfig is the article and community this tab shows.
type ContextConfig struct {
	ArticleID   int64 `mapstructure:"article_id"`
	CommunityID int64 `mapstructure:"community_id"`
}

type NotifyConfig struct {
	Sound     bool       `mapstructure:"sound"`
	LogToasts bool       `mapstructure:"log_toasts"`
	Ntfy      NtfyConfig `mapstructure:"ntfy"`
}

// NtfyConfig configures push toasts through an ntfy server.
type NtfyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Server   string `mapstructure:"server"`
	Topic    string `mapstructure:"topic"`
	Priority string `mapstructure:"priority"`
	Tags     string `mapstructure:"tags"`
	Token    string `mapstructure:"token"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Directory  string `mapstructure:"directory"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.timeout_sec", 10)
	v.SetDefault("api.rate_per_second", 5)
	v.SetDefault("realtime.poll_timeout", "65s")
	v.SetDefault("realtime.heartbeat_interval", "60s")
	v.SetDefault("realtime.lease_ttl", "5s")
	v.SetDefault("realtime.backoff_floor", "1s")
	v.SetDefault("realtime.backoff_cap", "10s")
	v.SetDefault("realtime.max_retries", 3)
	v.SetDefault("realtime.freshness_window", "30s")
	v.SetDefault("state.directory", ".rtsync/state")
	v.SetDefault("state.ledger_path", ".rtsync/ledger.db")
	v.SetDefault("bus.origin", "default")
	v.SetDefault("notify.sound", false)
	v.SetDefault("notify.log_toasts", true)
	v.SetDefault("notify.ntfy.enabled", false)
	v.SetDefault("notify.ntfy.server", "https://ntfy.sh")
	v.SetDefault("notify.ntfy.topic", "")
	v.SetDefault("notify.ntfy.priority", "default")
	v.SetDefault("notify.ntfy.tags", "speech_balloon")
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)

	// Environment variable support
	v.SetEnvPrefix("RTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("api.access_token", "RTSYNC_ACCESS_TOKEN")
	_ = v.BindEnv("api.user_id", "RTSYNC_USER_ID")
	_ = v.BindEnv("notify.ntfy.token", "RTSYNC_NTFY_TOKEN")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("rtsync")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// RequestTimeout bounds register and heartbeat calls.
func (c APIConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Configured reports whether the realtime endpoint may be contacted.
func (c APIConfig) Configured() bool {
	return c.Enabled && strings.TrimSpace(c.BaseURL) != ""
}
