// Package config loads environment configuration for the sentry monitoring agent.
//
// Load order: .env file, then environment variables. The mutable
// ScheduleConfig singleton (cooldowns, cadences, kill-switches) lives in
// its own schedule_config table and is read fresh by the scheduler and
// evaluators at runtime; see internal/storage.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds static application configuration loaded from the environment.
type Config struct {
	TelegramBotToken     string
	TelegramChatID       string
	TelegramGroupChatID  string
	DatabaseURL          string
	Timezone             string
	DexscreenerRateLimit time.Duration
	HealthCheckPort      int
	HeliusWebhookSecret  string
	WSEnabled            bool
	NodeEnv              string
	LogLevel             string
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		TelegramBotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:       os.Getenv("TELEGRAM_CHAT_ID"),
		TelegramGroupChatID:  os.Getenv("TELEGRAM_GROUP_CHAT_ID"),
		DatabaseURL:          getEnv("DATABASE_URL", "sentry.db"),
		Timezone:             getEnv("TIMEZONE", "UTC"),
		DexscreenerRateLimit: time.Duration(getEnvAsInt("DEXSCREENER_RATE_LIMIT_MS", 200)) * time.Millisecond,
		HealthCheckPort:      getEnvAsInt("HEALTH_CHECK_PORT", 3002),
		HeliusWebhookSecret:  os.Getenv("HELIUS_WEBHOOK_SECRET"),
		WSEnabled:            getEnvAsBool("WS_ENABLED", false),
		NodeEnv:              getEnv("NODE_ENV", "production"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required configuration is present.
func (c *Config) Validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.TelegramChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
