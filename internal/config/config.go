// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/botmd/internal/fetcher"
	"github.com/JakeFAU/botmd/internal/logging"
	"github.com/JakeFAU/botmd/pkg/botmd"
	"github.com/JakeFAU/botmd/pkg/pattern"
)

// EnvPrefix namespaces environment overrides, e.g. BOTMD_SERVER_PORT.
const EnvPrefix = "BOTMD"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Botmd     BotmdConfig     `mapstructure:"botmd"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	UpstreamURL string `mapstructure:"upstream_url"`
	// PublicURL is the site's public address, used to absolutize links in
	// Markdown. Empty means links resolve against upstream_url.
	PublicURL         string        `mapstructure:"public_url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig guards the admin endpoints.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// BotmdConfig mirrors botmd.Config with plain, file-friendly types.
// Pattern strings prefixed "regex:" are regular expressions; anything
// else is a glob (paths) or substring (user agents).
type BotmdConfig struct {
	Enabled    bool        `mapstructure:"enabled"`
	Paths      RulesConfig `mapstructure:"paths"`
	UserAgents RulesConfig `mapstructure:"user_agents"`
	// BotCatalog replaces the built-in signatures when non-empty.
	BotCatalog []string `mapstructure:"bot_catalog"`
	// DisableBotCatalog turns catalog matching off entirely.
	DisableBotCatalog    bool        `mapstructure:"disable_bot_catalog"`
	Cache                CacheConfig `mapstructure:"cache"`
	Fetch                FetchConfig `mapstructure:"fetch"`
	Converter            string      `mapstructure:"converter"`
	CacheKeyIncludesHost bool        `mapstructure:"cache_key_includes_host"`
	TrustForwardedProto  bool        `mapstructure:"trust_forwarded_proto"`
	LogRequests          bool        `mapstructure:"log_requests"`
	Debug                bool        `mapstructure:"debug"`
}

// RulesConfig is an allow/disallow pair of pattern strings.
type RulesConfig struct {
	Allowed    []string `mapstructure:"allowed"`
	Disallowed []string `mapstructure:"disallowed"`
}

// CacheConfig sizes the Markdown cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

// FetchConfig bounds upstream fetches.
type FetchConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxBytes       int64         `mapstructure:"max_bytes"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	AllowLocalhost bool          `mapstructure:"allow_localhost"`
	UserAgent      string        `mapstructure:"user_agent"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.upstream_url", "")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "botmd")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("botmd.enabled", true)
	v.SetDefault("botmd.paths.allowed", []string{})
	v.SetDefault("botmd.paths.disallowed", []string{})
	v.SetDefault("botmd.user_agents.allowed", []string{})
	v.SetDefault("botmd.user_agents.disallowed", []string{})
	v.SetDefault("botmd.bot_catalog", []string{})
	v.SetDefault("botmd.disable_bot_catalog", false)
	v.SetDefault("botmd.trust_forwarded_proto", false)
	v.SetDefault("botmd.cache.enabled", true)
	v.SetDefault("botmd.cache.ttl", "24h")
	v.SetDefault("botmd.cache.max_size", 1000)
	v.SetDefault("botmd.fetch.timeout", fetcher.DefaultTimeout.String())
	v.SetDefault("botmd.fetch.max_bytes", fetcher.DefaultMaxBytes)
	v.SetDefault("botmd.fetch.max_retries", fetcher.DefaultMaxRetries)
	v.SetDefault("botmd.fetch.retry_base_delay", fetcher.DefaultRetryBaseDelay.String())
	v.SetDefault("botmd.fetch.allow_localhost", false)
	v.SetDefault("botmd.fetch.user_agent", fetcher.DefaultUserAgent)
	v.SetDefault("botmd.fetch.rate_limit", 0.0)
	v.SetDefault("botmd.fetch.rate_burst", 1)
	v.SetDefault("botmd.converter", "regex")
	v.SetDefault("botmd.cache_key_includes_host", false)
	v.SetDefault("botmd.log_requests", false)
	v.SetDefault("botmd.debug", false)
}

// Validate enforces required values and reasonable limits. The botmd
// section is checked by building the library configuration from it.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.UpstreamURL != "" {
		u, err := url.Parse(c.Server.UpstreamURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server.upstream_url must be an absolute http(s) URL, got %q", c.Server.UpstreamURL)
		}
	}
	if c.Server.PublicURL != "" {
		u, err := url.Parse(c.Server.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server.public_url must be an absolute http(s) URL, got %q", c.Server.PublicURL)
		}
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if _, err := logging.ParseLevel(c.Logging.Level, zapcore.InfoLevel); err != nil {
		return err
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	bc, err := c.ToBotmd(nil)
	if err != nil {
		return err
	}
	if _, err := bc.Resolve(); err != nil {
		return fmt.Errorf("botmd: %w", err)
	}
	return nil
}

// ToBotmd converts the botmd section into library configuration, parsing
// every pattern string.
func (c Config) ToBotmd(logger *zap.Logger) (botmd.Config, error) {
	b := c.Botmd
	paths, err := parseRules("botmd.paths", b.Paths)
	if err != nil {
		return botmd.Config{}, err
	}
	agents, err := parseRules("botmd.user_agents", b.UserAgents)
	if err != nil {
		return botmd.Config{}, err
	}
	catalog, err := pattern.ParseAll(b.BotCatalog)
	if err != nil {
		return botmd.Config{}, fmt.Errorf("botmd.bot_catalog: %w", err)
	}
	if b.DisableBotCatalog {
		catalog = []pattern.Pattern{}
	}

	return botmd.Config{
		Enabled:    botmd.Bool(b.Enabled),
		Paths:      paths,
		UserAgents: agents,
		Cache: botmd.CacheConfig{
			Enabled: botmd.Bool(b.Cache.Enabled),
			TTL:     botmd.Duration(b.Cache.TTL),
			MaxSize: botmd.Int(b.Cache.MaxSize),
		},
		Fetch: botmd.FetchConfig{
			Timeout:        b.Fetch.Timeout,
			MaxBytes:       b.Fetch.MaxBytes,
			MaxRetries:     botmd.Int(b.Fetch.MaxRetries),
			RetryBaseDelay: b.Fetch.RetryBaseDelay,
			AllowLocalhost: b.Fetch.AllowLocalhost,
			UserAgent:      b.Fetch.UserAgent,
			RateLimit:      b.Fetch.RateLimit,
			RateBurst:      b.Fetch.RateBurst,
		},
		BotCatalog:           catalog,
		Converter:            b.Converter,
		CacheKeyIncludesHost: b.CacheKeyIncludesHost,
		TrustForwardedProto:  b.TrustForwardedProto,
		LogRequests:          b.LogRequests,
		Debug:                b.Debug,
		Logger:               logger,
	}, nil
}

func parseRules(field string, rc RulesConfig) (pattern.RuleSet, error) {
	allowed, err := pattern.ParseAll(rc.Allowed)
	if err != nil {
		return pattern.RuleSet{}, fmt.Errorf("%s.allowed: %w", field, err)
	}
	disallowed, err := pattern.ParseAll(rc.Disallowed)
	if err != nil {
		return pattern.RuleSet{}, fmt.Errorf("%s.disallowed: %w", field, err)
	}
	return pattern.RuleSet{Allowed: allowed, Disallowed: disallowed}, nil
}
