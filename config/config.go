package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Notification channel selection for the agent sink.
const (
	ChannelSystem = "system"
	ChannelInApp  = "in-app"
	ChannelBoth   = "both"
)

const (
	DefaultPollInterval = 10 * time.Second
	MinPollInterval     = time.Second
	MaxPollInterval     = time.Minute

	DefaultDeliveryRetention = 30 * 24 * time.Hour
)

type Config struct {
	// Server
	ListenAddr   string `yaml:"listen_addr"`
	DatabasePath string `yaml:"database_path"`

	// Shared
	TimezoneName string         `yaml:"timezone"`
	Timezone     *time.Location `yaml:"-"`
	LogLevel     string         `yaml:"log_level"`

	// Agent
	ServerURL         string        `yaml:"server_url"`
	ShareCode         string        `yaml:"share_code"`
	AgentDatabasePath string        `yaml:"agent_database_path"`
	AgentListenAddr   string        `yaml:"agent_listen_addr"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	NotifyChannel     string        `yaml:"notify_channel"`
	NotifySound       bool          `yaml:"notify_sound"`

	// Daily jobs: "HH:MM" agenda notification (empty disables) and how long
	// reminder delivery records are kept.
	AgendaTime        string        `yaml:"agenda_time"`
	DeliveryRetention time.Duration `yaml:"delivery_retention"`

	// Telegram is the system-level notification channel.
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`

	// Optional CalDAV mirror for server-side events.
	CalDAVURL      string `yaml:"caldav_url"`
	CalDAVUsername string `yaml:"caldav_username"`
	CalDAVPassword string `yaml:"caldav_password"`
	CalDAVCalendar string `yaml:"caldav_calendar"`
}

// Default returns the configuration used when neither a file nor env vars are set.
func Default() *Config {
	return &Config{
		ListenAddr:        ":8080",
		DatabasePath:      "./data/familycal.db",
		TimezoneName:      "UTC",
		LogLevel:          "info",
		ServerURL:         "http://127.0.0.1:8080",
		AgentDatabasePath: "./data/agent.db",
		AgentListenAddr:   "127.0.0.1:8090",
		PollInterval:      DefaultPollInterval,
		NotifyChannel:     ChannelBoth,
		NotifySound:       true,
		DeliveryRetention: DefaultDeliveryRetention,
	}
}

// Load builds the config from defaults, an optional YAML file named by
// FAMILYCAL_CONFIG, and environment variables (highest precedence).
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("FAMILYCAL_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.parseEnv(); err != nil {
		return nil, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) parseEnv() error {
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.DatabasePath, "DATABASE_PATH")
	setString(&c.TimezoneName, "TIMEZONE")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.ServerURL, "SERVER_URL")
	setString(&c.ShareCode, "SHARE_CODE")
	setString(&c.AgentDatabasePath, "AGENT_DATABASE_PATH")
	setString(&c.AgentListenAddr, "AGENT_LISTEN_ADDR")
	setString(&c.NotifyChannel, "NOTIFY_CHANNEL")
	setString(&c.AgendaTime, "AGENDA_TIME")
	setString(&c.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.CalDAVURL, "CALDAV_URL")
	setString(&c.CalDAVUsername, "CALDAV_USERNAME")
	setString(&c.CalDAVPassword, "CALDAV_PASSWORD")
	setString(&c.CalDAVCalendar, "CALDAV_CALENDAR")

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid POLL_INTERVAL: %w", err)
		}
		c.PollInterval = d
	}

	if v := os.Getenv("DELIVERY_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid DELIVERY_RETENTION: %w", err)
		}
		c.DeliveryRetention = d
	}

	if v := os.Getenv("NOTIFY_SOUND"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid NOTIFY_SOUND: %w", err)
		}
		c.NotifySound = b
	}

	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID must be a number")
		}
		c.TelegramChatID = id
	}
	return nil
}

func (c *Config) normalize() error {
	if c.TimezoneName == "" {
		c.TimezoneName = "UTC"
	}
	tz, err := time.LoadLocation(c.TimezoneName)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	c.Timezone = tz

	switch {
	case c.PollInterval <= 0:
		c.PollInterval = DefaultPollInterval
	case c.PollInterval < MinPollInterval:
		c.PollInterval = MinPollInterval
	case c.PollInterval > MaxPollInterval:
		c.PollInterval = MaxPollInterval
	}

	c.NotifyChannel = strings.ToLower(strings.TrimSpace(c.NotifyChannel))
	switch c.NotifyChannel {
	case ChannelSystem, ChannelInApp, ChannelBoth:
	case "":
		c.NotifyChannel = ChannelBoth
	default:
		return fmt.Errorf("invalid NOTIFY_CHANNEL %q (want system, in-app or both)", c.NotifyChannel)
	}

	c.AgendaTime = strings.TrimSpace(c.AgendaTime)
	if c.AgendaTime != "" {
		if _, err := time.Parse("15:04", c.AgendaTime); err != nil {
			return fmt.Errorf("invalid AGENDA_TIME %q (want HH:MM)", c.AgendaTime)
		}
	}
	if c.DeliveryRetention <= 0 {
		c.DeliveryRetention = DefaultDeliveryRetention
	}

	c.ShareCode = strings.ToUpper(strings.TrimSpace(c.ShareCode))
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	return nil
}

// TelegramEnabled reports whether the system notification channel can be built.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// CalDAVEnabled reports whether server events should be mirrored to CalDAV.
func (c *Config) CalDAVEnabled() bool {
	return c.CalDAVURL != "" && c.CalDAVUsername != "" && c.CalDAVPassword != "" && c.CalDAVCalendar != ""
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
