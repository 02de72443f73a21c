package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the service. Required keys
// fail Load; third-party credentials merely disable their feature when blank.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	DatabaseURL string
	RedisURL    string
	NatsURL     string

	// AdminSecret signs admin JWTs and must be present at start.
	AdminSecret string
	// WebhookSecret is the shared secret expected in X-Sales-Hottok.
	WebhookSecret string
	// WebhookProcessingEnabled gates async lifecycle work for webhook events.
	WebhookProcessingEnabled bool

	// Sales platform credentials; blank disables sync jobs.
	SalesClientID     string
	SalesClientSecret string
	SalesBaseURL      string
	SalesTokenURL     string
	SalesSyncInterval time.Duration

	// Chat platform credentials; blank disables role grants and admin DMs.
	ChatBotToken     string
	ChatGuildID      string
	ChatBaseURL      string
	ChatAdminChannel string

	// Messaging transport; blank URL disables sends unless dev mode is on.
	WhatsappBaseURL  string
	WhatsappInstance string
	WhatsappAPIKey   string
	WhatsappDevMode  bool
	WhatsappDevDir   string

	// LLM provider for message variations; blank key disables the feature.
	AIProvider  string
	OpenAIKey   string
	OpenAIModel string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// SalesEnabled reports whether sales API credentials are configured.
func (c Config) SalesEnabled() bool {
	return c.SalesClientID != "" && c.SalesClientSecret != "" && c.SalesBaseURL != ""
}

// ChatEnabled reports whether the chat bot is configured.
func (c Config) ChatEnabled() bool {
	return c.ChatBotToken != "" && c.ChatGuildID != ""
}

// WhatsappEnabled reports whether outbound messaging can be attempted.
func (c Config) WhatsappEnabled() bool {
	return c.WhatsappDevMode || (c.WhatsappBaseURL != "" && c.WhatsappInstance != "")
}

// VariationsEnabled reports whether the LLM variation generator is usable.
func (c Config) VariationsEnabled() bool {
	return c.OpenAIKey != ""
}

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ALUNO")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Aluno API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("webhook.processing_enabled", true)
	v.SetDefault("sales.sync_interval", "1h")
	v.SetDefault("chat.base_url", "https://discord.com/api/v10")
	v.SetDefault("evolution.dev_mode", false)
	v.SetDefault("evolution.dev_dir", "./dev-messages")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "gpt-4o-mini")

	syncIntervalString := v.GetString("sales.sync_interval")
	if syncIntervalString == "" {
		syncIntervalString = "1h"
	}

	syncInterval, err := time.ParseDuration(syncIntervalString)
	if err != nil {
		return Config{}, fmt.Errorf("invalid sales sync interval: %w", err)
	}

	cfg := Config{
		AppName:                  v.GetString("app.name"),
		AppEnv:                   v.GetString("app.env"),
		AppPort:                  v.GetString("app.port"),
		DatabaseURL:              v.GetString("database.url"),
		RedisURL:                 v.GetString("redis.url"),
		NatsURL:                  v.GetString("nats.url"),
		AdminSecret:              v.GetString("admin.secret"),
		WebhookSecret:            v.GetString("webhook.secret"),
		WebhookProcessingEnabled: v.GetBool("webhook.processing_enabled"),
		SalesClientID:            v.GetString("sales.client_id"),
		SalesClientSecret:        v.GetString("sales.client_secret"),
		SalesBaseURL:             v.GetString("sales.base_url"),
		SalesTokenURL:            v.GetString("sales.token_url"),
		SalesSyncInterval:        syncInterval,
		ChatBotToken:             v.GetString("chat.bot_token"),
		ChatGuildID:              v.GetString("chat.guild_id"),
		ChatBaseURL:              v.GetString("chat.base_url"),
		ChatAdminChannel:         v.GetString("chat.admin_channel"),
		WhatsappBaseURL:          v.GetString("evolution.base_url"),
		WhatsappInstance:         v.GetString("evolution.instance"),
		WhatsappAPIKey:           v.GetString("evolution.api_key"),
		WhatsappDevMode:          v.GetBool("evolution.dev_mode"),
		WhatsappDevDir:           v.GetString("evolution.dev_dir"),
		AIProvider:               strings.ToLower(v.GetString("ai.provider")),
		OpenAIKey:                v.GetString("openai_api_key"),
		OpenAIModel:              v.GetString("ai.model"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url must be provided")
	}
	if cfg.NatsURL == "" {
		return Config{}, fmt.Errorf("nats url must be provided")
	}
	if cfg.AdminSecret == "" {
		return Config{}, fmt.Errorf("admin secret must be provided")
	}
	if cfg.WebhookSecret == "" {
		return Config{}, fmt.Errorf("webhook secret must be provided")
	}

	return cfg, nil
}
