package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	DefaultHost                = "0.0.0.0"
	DefaultPort                = 18790
	DefaultDashboardPort       = 8000
	DefaultBufSize             = 100
	DefaultRetrievalLimit      = 3
	DefaultMaxPagesPerSession  = 50
	DefaultRequestTimeout      = "10s"
	DefaultRateLimitDelay      = "2s"
	DefaultUserAgent           = "Mozilla/5.0 (compatible; MayLearningBot/1.0; Educational Purpose)"
	DefaultLearningScheduleDur = "24h"
)

type Config struct {
	Profile   ProfileConfig   `json:"profile"`
	Memory    MemoryConfig    `json:"memory"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Dashboard DashboardConfig `json:"dashboard"`
	Learning  LearningConfig  `json:"learning"`
}

// ProfileConfig names the single user May keeps a profile for. An empty name
// means the profile is created later (Telegram /start or `may onboard`).
type ProfileConfig struct {
	Name string `json:"name,omitempty"`
}

type MemoryConfig struct {
	DBPath         string `json:"dbPath,omitempty"`
	RetrievalLimit int    `json:"retrievalLimit"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WebUI    WebUIConfig    `json:"webui"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type WebUIConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allowFrom"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type DashboardConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type LearningConfig struct {
	Enabled            bool               `json:"enabled"`
	MaxPagesPerSession int                `json:"maxPagesPerSession"`
	RequestTimeout     string             `json:"requestTimeout,omitempty"`
	RateLimitDelay     string             `json:"rateLimitDelay,omitempty"`
	UserAgent          string             `json:"userAgent,omitempty"`
	Schedules          []LearningSchedule `json:"schedules,omitempty"`
}

// LearningSchedule asks the gateway to crawl Topic every Every (Go duration),
// or on Cron (six fields, seconds first) when that is set.
type LearningSchedule struct {
	Topic string `json:"topic"`
	Every string `json:"every,omitempty"`
	Cron  string `json:"cron,omitempty"`
}

// Durations parses the learning timing fields, falling back to defaults for
// empty or malformed values.
func (l LearningConfig) Durations() (timeout, delay time.Duration) {
	return parseDuration(l.RequestTimeout, DefaultRequestTimeout),
		parseDuration(l.RateLimitDelay, DefaultRateLimitDelay)
}

// EveryDuration returns the schedule interval, defaulting to a day.
func (s LearningSchedule) EveryDuration() time.Duration {
	return parseDuration(s.Every, DefaultLearningScheduleDur)
}

func parseDuration(value, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}

func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			DBPath:         filepath.Join(ConfigDir(), "data", "may_memory.db"),
			RetrievalLimit: DefaultRetrievalLimit,
		},
		Channels: ChannelsConfig{
			WebUI: WebUIConfig{Enabled: true},
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			Host:    DefaultHost,
			Port:    DefaultDashboardPort,
		},
		Learning: LearningConfig{
			Enabled:            true,
			MaxPagesPerSession: DefaultMaxPagesPerSession,
			RequestTimeout:     DefaultRequestTimeout,
			RateLimitDelay:     DefaultRateLimitDelay,
			UserAgent:          DefaultUserAgent,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".may")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if dbPath := os.Getenv("MAY_DB_PATH"); dbPath != "" {
		cfg.Memory.DBPath = dbPath
	}
	if limit := os.Getenv("MAY_RETRIEVAL_LIMIT"); limit != "" {
		if parsed, err := strconv.Atoi(limit); err == nil {
			cfg.Memory.RetrievalLimit = parsed
		}
	}
	if name := os.Getenv("MAY_PROFILE_NAME"); name != "" {
		cfg.Profile.Name = name
	}
	if token := os.Getenv("MAY_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if enabled := os.Getenv("MAY_TELEGRAM_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Channels.Telegram.Enabled = parsed
		}
	}
	if enabled := os.Getenv("MAY_WEBUI_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Channels.WebUI.Enabled = parsed
		}
	}
	if port := os.Getenv("MAY_GATEWAY_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = parsed
		}
	}
	if port := os.Getenv("MAY_DASHBOARD_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Dashboard.Port = parsed
		}
	}
	if enabled := os.Getenv("MAY_LEARNING_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Learning.Enabled = parsed
		}
	}

	if cfg.Memory.DBPath == "" {
		cfg.Memory.DBPath = DefaultConfig().Memory.DBPath
	}
	if cfg.Memory.RetrievalLimit <= 0 {
		cfg.Memory.RetrievalLimit = DefaultRetrievalLimit
	}
	if cfg.Learning.MaxPagesPerSession <= 0 {
		cfg.Learning.MaxPagesPerSession = DefaultMaxPagesPerSession
	}
	if cfg.Learning.UserAgent == "" {
		cfg.Learning.UserAgent = DefaultUserAgent
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
