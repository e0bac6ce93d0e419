package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel             = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens         = 8192
	DefaultMaxToolIterations = 20

	// DefaultContextLimit is the model context window in tokens.
	// Override via CLAUDECLAW_CONTEXT_LIMIT for smaller model variants.
	DefaultContextLimit = 1_000_000

	// DefaultSchedulerPollSeconds is how often the scheduler checks for due tasks.
	DefaultSchedulerPollSeconds = 60
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Telegram  TelegramConfig  `json:"telegram"`
	Store     StoreConfig     `json:"store"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

type AgentConfig struct {
	Workspace         string `json:"workspace"`
	Model             string `json:"model"`
	MaxTokens         int    `json:"maxTokens"`
	MaxToolIterations int    `json:"maxToolIterations"`
	ContextLimit      int    `json:"contextLimit"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	// AllowedChatID restricts the bot to a single chat. Empty means the bot
	// replies to any chat with setup guidance instead of processing messages.
	AllowedChatID string `json:"allowedChatId"`
}

type StoreConfig struct {
	Path string `json:"path,omitempty"`
}

type SchedulerConfig struct {
	PollSeconds int `json:"pollSeconds,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace:         filepath.Join(home, ".claudeclaw", "workspace"),
			Model:             DefaultModel,
			MaxTokens:         DefaultMaxTokens,
			MaxToolIterations: DefaultMaxToolIterations,
			ContextLimit:      DefaultContextLimit,
		},
		Provider: ProviderConfig{},
		Telegram: TelegramConfig{},
		Store: StoreConfig{
			Path: filepath.Join(ConfigDir(), "data", "claudeclaw.db"),
		},
		Scheduler: SchedulerConfig{
			PollSeconds: DefaultSchedulerPollSeconds,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".claudeclaw")
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
	if key := os.Getenv("CLAUDECLAW_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_AUTH_TOKEN"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("CLAUDECLAW_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("ANTHROPIC_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("CLAUDECLAW_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
		cfg.Telegram.Enabled = true
	}
	if chatID := os.Getenv("CLAUDECLAW_ALLOWED_CHAT_ID"); chatID != "" {
		cfg.Telegram.AllowedChatID = chatID
	}
	if path := os.Getenv("CLAUDECLAW_STORE_PATH"); path != "" {
		cfg.Store.Path = path
	}
	if limit := os.Getenv("CLAUDECLAW_CONTEXT_LIMIT"); limit != "" {
		if parsed, err := strconv.Atoi(limit); err == nil && parsed > 0 {
			cfg.Agent.ContextLimit = parsed
		}
	}

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Agent.ContextLimit <= 0 {
		cfg.Agent.ContextLimit = DefaultContextLimit
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultConfig().Store.Path
	}
	if cfg.Scheduler.PollSeconds <= 0 {
		cfg.Scheduler.PollSeconds = DefaultSchedulerPollSeconds
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
