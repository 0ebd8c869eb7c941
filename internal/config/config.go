package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kittyscape/clogpoints/pkg/wiki"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Wiki     WikiConfig     `yaml:"wiki"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Recalc   RecalcConfig   `yaml:"recalc"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
	LogLevel string         `yaml:"log_level"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WikiConfig configures the collection log table source.
type WikiConfig struct {
	APIURL    string    `yaml:"api_url"`
	Page      string    `yaml:"page"`
	UserAgent string    `yaml:"user_agent"`
	Timeout   string    `yaml:"timeout"`
	Tags      []TagRule `yaml:"tags"`
}

// TagRule adds Tag to every item whose name contains Match.
type TagRule struct {
	Match string `yaml:"match"`
	Tag   string `yaml:"tag"`
}

// ParseTimeout returns the HTTP timeout as time.Duration.
func (w WikiConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(w.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// TagRules converts the configured rules. No rules yields the defaults.
func (w WikiConfig) TagRules() []wiki.TagRule {
	if len(w.Tags) == 0 {
		return wiki.DefaultTagRules
	}
	rules := make([]wiki.TagRule, 0, len(w.Tags))
	for _, t := range w.Tags {
		rules = append(rules, wiki.TagRule{Match: t.Match, Tag: t.Tag})
	}
	return rules
}

// ScheduleConfig configures the background revision watcher.
type ScheduleConfig struct {
	RevisionInterval string `yaml:"revision_interval"`
}

// ParseRevisionInterval returns the revision poll interval as time.Duration.
func (s ScheduleConfig) ParseRevisionInterval() time.Duration {
	d, err := time.ParseDuration(s.RevisionInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

// CatalogConfig tunes scoring lookups.
type CatalogConfig struct {
	DetailCacheSize int `yaml:"detail_cache_size"`
	SuggestLimit    int `yaml:"suggest_limit"`
}

// RecalcConfig configures recalculation runs.
type RecalcConfig struct {
	Pacing string `yaml:"pacing"`
}

// ParsePacing returns the delay between ranking updates. "0" disables it.
func (r RecalcConfig) ParsePacing() time.Duration {
	d, err := time.ParseDuration(r.Pacing)
	if err != nil {
		return time.Second
	}
	return d
}

// AlertsConfig configures the action log destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./clogpoints.db"},
		Wiki: WikiConfig{
			APIURL:    wiki.DefaultAPIURL,
			Page:      wiki.DefaultPage,
			UserAgent: wiki.DefaultUserAgent,
			Timeout:   "30s",
		},
		Schedule: ScheduleConfig{RevisionInterval: "1h"},
		Catalog:  CatalogConfig{DetailCacheSize: 512, SuggestLimit: 25},
		Recalc:   RecalcConfig{Pacing: "1s"},
		Server:   ServerConfig{Port: 8080},
		LogLevel: "info",
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLOGPOINTS_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CLOGPOINTS_WIKI_API_URL"); v != "" {
		cfg.Wiki.APIURL = v
	}
	if v := os.Getenv("CLOGPOINTS_USER_AGENT"); v != "" {
		cfg.Wiki.UserAgent = v
	}
	if v := os.Getenv("CLOGPOINTS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CLOGPOINTS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("CLOGPOINTS_WEBHOOK_SECRET"); v != "" {
		cfg.Alerts.Webhook.Secret = v
	}
}
