// Package config loads codexbot configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	LogLevel string `yaml:"log_level" env:"CODEXBOT_LOG_LEVEL"`

	Telegram  TelegramConfig  `yaml:"telegram"`
	Discord   DiscordConfig   `yaml:"discord"`
	Agent     AgentConfig     `yaml:"agent"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	Console   ConsoleConfig   `yaml:"console"`
}

// TelegramConfig configures the primary chat platform.
type TelegramConfig struct {
	Token          string  `yaml:"token" env:"CODEXBOT_TELEGRAM_TOKEN"`
	DefaultChatIDs []int64 `yaml:"default_chat_ids" env:"CODEXBOT_TELEGRAM_DEFAULT_CHAT_IDS"`
	ParseMode      string  `yaml:"parse_mode" env:"CODEXBOT_TELEGRAM_PARSE_MODE"`
}

// DiscordConfig configures the optional secondary delivery platform.
// Chat ids listed here are routed to Discord instead of Telegram.
type DiscordConfig struct {
	Token   string  `yaml:"token" env:"CODEXBOT_DISCORD_TOKEN"`
	ChatIDs []int64 `yaml:"chat_ids" env:"CODEXBOT_DISCORD_CHAT_IDS"`
}

// AgentConfig configures the external agent.
type AgentConfig struct {
	Provider         string  `yaml:"provider" env:"CODEXBOT_AGENT_PROVIDER"`
	APIKey           string  `yaml:"api_key" env:"CODEXBOT_AGENT_API_KEY"`
	Model            string  `yaml:"model" env:"CODEXBOT_AGENT_MODEL"`
	MaxTokens        int64   `yaml:"max_tokens" env:"CODEXBOT_AGENT_MAX_TOKENS"`
	WorkingDirectory string  `yaml:"working_directory" env:"CODEXBOT_AGENT_WORKDIR"`
	DefaultUserID    int64   `yaml:"default_user_id" env:"CODEXBOT_AGENT_DEFAULT_USER_ID"`
	InputPerMTok     float64 `yaml:"input_price_per_mtok" env:"CODEXBOT_AGENT_INPUT_PRICE"`
	OutputPerMTok    float64 `yaml:"output_price_per_mtok" env:"CODEXBOT_AGENT_OUTPUT_PRICE"`
}

// GatewayConfig configures the HTTP API and webhook ingress.
type GatewayConfig struct {
	Host                string `yaml:"host" env:"CODEXBOT_GATEWAY_HOST"`
	Port                int    `yaml:"port" env:"CODEXBOT_GATEWAY_PORT"`
	APIKey              string `yaml:"api_key" env:"CODEXBOT_API_KEY"`
	GitHubWebhookSecret string `yaml:"github_webhook_secret" env:"CODEXBOT_GITHUB_WEBHOOK_SECRET"`
	WebhookAPISecret    string `yaml:"webhook_api_secret" env:"CODEXBOT_WEBHOOK_API_SECRET"`
}

// SchedulerConfig configures the cron scheduler.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled" env:"CODEXBOT_SCHEDULER_ENABLED"`
}

// StorageConfig configures the sqlite store.
type StorageConfig struct {
	Path string `yaml:"path" env:"CODEXBOT_STORAGE_PATH"`
}

// ConsoleConfig configures the local readline channel.
type ConsoleConfig struct {
	Enabled bool `yaml:"enabled" env:"CODEXBOT_CONSOLE_ENABLED"`
}

// Defaults returns a config with sensible defaults applied.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Telegram: TelegramConfig{ParseMode: "HTML"},
		Agent: AgentConfig{
			Provider:         "anthropic",
			Model:            "claude-sonnet-4-5",
			MaxTokens:        4096,
			WorkingDirectory: ".",
		},
		Gateway:   GatewayConfig{Host: "127.0.0.1", Port: 8090},
		Scheduler: SchedulerConfig{Enabled: true},
		Storage:   StorageConfig{Path: "codexbot.db"},
	}
}

// Load reads the YAML file at path (if non-empty) and applies
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Agent.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown agent provider %q", c.Agent.Provider)
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port %d", c.Gateway.Port)
	}
	return nil
}
