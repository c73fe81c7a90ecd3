// Package hcconfig loads and validates cmd/crawlctl's demo-server
// configuration via Viper. The crawl engine itself is never configured
// this way — every hybridcrawl operation takes an explicit Options value
// per call; hcconfig only supplies the defaults and server-level knobs the
// demo binary layers on top.
package hcconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all cmd/crawlctl configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig           `mapstructure:"server"`
	Auth     AuthConfig             `mapstructure:"auth"`
	Crawler  CrawlerConfig          `mapstructure:"crawler"`
	Headless HeadlessConfig         `mapstructure:"headless"`
	Storage  StorageConfig          `mapstructure:"storage"`
	Logging  LoggingConfig          `mapstructure:"logging"`
	Presets  map[string]CrawlPreset `mapstructure:"presets"`
	Webhook  WebhookConfig          `mapstructure:"webhook"`
}

// ServerConfig controls the demo REST/WebSocket server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines the demo server's bearer-token toggle.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig seeds the fallback hybridcrawl.Options for requests that
// omit a field; it never overrides a value the caller sets explicitly.
type CrawlerConfig struct {
	DetectionThreshold float64 `mapstructure:"detection_threshold"`
	MaxRetries         int     `mapstructure:"max_retries"`
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	MaxDepthDefault    int     `mapstructure:"max_depth_default"`
	MaxPagesDefault    int     `mapstructure:"max_pages_default"`
	ChildLinksPerPage  int     `mapstructure:"child_links_per_page"`
	DelayMs            int     `mapstructure:"delay_ms"`
	SameDomainOnly     bool    `mapstructure:"same_domain_only"`
	Concurrency        int     `mapstructure:"concurrency"`
}

// HeadlessConfig governs the Dynamic Fetcher's default behavior for demo
// requests that don't specify it.
type HeadlessConfig struct {
	BlockResources bool `mapstructure:"block_resources"`
	AutoScroll     bool `mapstructure:"auto_scroll"`
	MaxScrolls     int  `mapstructure:"max_scrolls"`
}

// StorageConfig sets the local directory the demo binary's blob sink writes
// screenshots under.
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// LoggingConfig toggles zap development mode.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlPreset is a named, reusable bundle of crawl limits a caller can
// request by name instead of spelling out every field. Mirrors the
// teacher's StandardJobs concept, retargeted at hybridcrawl.Options.
type CrawlPreset struct {
	ForceMethod       string `mapstructure:"force_method"`
	MaxDepth          int    `mapstructure:"max_depth"`
	MaxPages          int    `mapstructure:"max_pages"`
	ChildLinksPerPage int    `mapstructure:"child_links_per_page"`
	DelayMs           int    `mapstructure:"delay_ms"`
	SameDomainOnly    bool   `mapstructure:"same_domain_only"`
}

// WebhookConfig configures the demo binary's completion-notification POST.
type WebhookConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Load builds a Config from disk/environment. path == "" skips reading a
// config file and returns defaults plus any CRAWLCTL_-prefixed env vars.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLCTL")
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
	v.SetDefault("crawler.detection_threshold", 0.5)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.max_depth_default", 3)
	v.SetDefault("crawler.max_pages_default", 50)
	v.SetDefault("crawler.child_links_per_page", 3)
	v.SetDefault("crawler.delay_ms", 1500)
	v.SetDefault("crawler.same_domain_only", true)
	v.SetDefault("crawler.concurrency", 3)
	v.SetDefault("headless.block_resources", true)
	v.SetDefault("headless.auto_scroll", false)
	v.SetDefault("headless.max_scrolls", 10)
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("logging.development", true)
	v.SetDefault("webhook.timeout_seconds", 5)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	for name, preset := range c.Presets {
		if preset.MaxDepth < 0 || preset.MaxPages < 0 {
			return fmt.Errorf("presets.%s: max_depth and max_pages must be >= 0", name)
		}
	}
	return nil
}

// WebhookTimeout converts WebhookConfig's seconds field into a Duration.
func (c Config) WebhookTimeout() time.Duration {
	if c.Webhook.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Webhook.TimeoutSeconds) * time.Second
}
