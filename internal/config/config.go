package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v4"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel       string   `yaml:"log_level"`
	PollIntervalMS int      `yaml:"poll_interval_ms"`
	Workers        int      `yaml:"workers"`
	Telegram       Telegram `yaml:"telegram"`
	Provider       Provider `yaml:"provider"`
	State          State    `yaml:"state"`
	Mirror         SMTP     `yaml:"mirror"`
}

// Telegram holds the chat bot credentials.
type Telegram struct {
	Token       string `yaml:"token"`
	APIEndpoint string `yaml:"api_endpoint"`
}

// Provider describes where mail for tracked addresses is read from.
type Provider struct {
	Type               string   `yaml:"type"` // "rest", "imap" or "pop3"
	BaseURL            string   `yaml:"base_url"`
	TimeoutSeconds     int      `yaml:"timeout_seconds"`
	AttachmentPageSize int      `yaml:"attachment_page_size"`
	Domains            []string `yaml:"domains"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	Username           string   `yaml:"username"`
	Password           string   `yaml:"password"`
	UseTLS             bool     `yaml:"use_tls"`
	IMAPFolder         string   `yaml:"imap_folder"`
}

// State selects the durable snapshot backend.
type State struct {
	Backend string `yaml:"backend"` // "json" or "sqlite"
	Path    string `yaml:"path"`
}

// SMTP holds the optional mirror mail server configuration.
type SMTP struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	UseTLS    bool   `yaml:"use_tls"`
	ForwardTo string `yaml:"forward_to"`
}

const (
	DefaultPollInterval       = 60 * time.Second
	DefaultProviderTimeout    = 10 * time.Second
	DefaultAttachmentPageSize = 50
	DefaultWorkers            = 4
)

// PollInterval returns the sweep interval as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Timeout returns the per-call provider timeout.
func (p *Provider) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return DefaultProviderTimeout
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// PageSize returns the number of attachments fetched per check, defaulting to 50.
func (p *Provider) PageSize() int {
	if p.AttachmentPageSize <= 0 {
		return DefaultAttachmentPageSize
	}
	return p.AttachmentPageSize
}

// GetIMAPFolder returns the IMAP folder name, defaulting to "INBOX".
func (p *Provider) GetIMAPFolder() string {
	if p.IMAPFolder == "" {
		return "INBOX"
	}
	return p.IMAPFolder
}

// Enabled reports whether the SMTP mirror is configured.
func (s *SMTP) Enabled() bool {
	return s.Host != ""
}

func defaults() *Config {
	return &Config{
		LogLevel:       "info",
		PollIntervalMS: int(DefaultPollInterval / time.Millisecond),
		Workers:        DefaultWorkers,
		Provider: Provider{
			Type:               "rest",
			TimeoutSeconds:     int(DefaultProviderTimeout / time.Second),
			AttachmentPageSize: DefaultAttachmentPageSize,
		},
		State: State{
			Backend: "json",
			Path:    "data/state.json",
		},
	}
}

// Load reads and parses a YAML configuration file, then applies environment
// overrides. A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := env("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := env("TELEGRAM_API_ENDPOINT"); v != "" {
		c.Telegram.APIEndpoint = v
	}
	if v := env("POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("POLL_INTERVAL_MS: %w", err)
		}
		c.PollIntervalMS = ms
	}
	if v := env("MAIL_API_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := env("STATE_BACKEND"); v != "" {
		c.State.Backend = v
	}
	if v := env("STATE_PATH"); v != "" {
		c.State.Path = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (c *Config) validate() error {
	if c.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive")
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}

	switch c.State.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("state.backend must be json or sqlite")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	p := c.Provider
	switch p.Type {
	case "rest":
		if p.BaseURL == "" {
			return fmt.Errorf("provider.base_url is required for the rest provider")
		}
	case "imap", "pop3":
		if p.Host == "" {
			return fmt.Errorf("provider.host is required for the %s provider", p.Type)
		}
		if p.Port == 0 {
			return fmt.Errorf("provider.port is required for the %s provider", p.Type)
		}
		if len(p.Domains) == 0 {
			return fmt.Errorf("provider.domains is required for the %s provider", p.Type)
		}
	default:
		return fmt.Errorf("provider.type must be rest, imap or pop3")
	}

	if c.Mirror.Enabled() {
		if c.Mirror.Port == 0 {
			return fmt.Errorf("mirror.port is required")
		}
		if c.Mirror.ForwardTo == "" {
			return fmt.Errorf("mirror.forward_to is required")
		}
	}
	return nil
}
