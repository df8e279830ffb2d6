// Package config manages application configuration from a YAML file,
// CHATD_* environment variables, and default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration parameters for all
// components of the chat daemon: logging, storage, the HTTP API, the
// Gemini backend, chat defaults, and maintenance.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Server      ServerConfig      `mapstructure:"server"`
	Gemini      GeminiConfig      `mapstructure:"gemini"`
	Chat        ChatConfig        `mapstructure:"chat"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// LoggerConfig controls log level and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig holds SQLite storage settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"             validate:"required"`
	JWTSecret       string        `mapstructure:"jwt_secret"       validate:"required"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s,max=1m"`
}

// GeminiConfig holds settings for the Gemini completion backend.
type GeminiConfig struct {
	APIKey         string        `mapstructure:"api_key" validate:"required"`
	Model          string        `mapstructure:"model"   validate:"required"`
	MaxRetries     int           `mapstructure:"max_retries"      validate:"min=0,max=10"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"      validate:"min=100ms,max=1m"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"  validate:"min=1s,max=10m"`
}

// ChatConfig holds default generation settings used when a caller does
// not supply its own. Temperature must stay within [0, 1].
type ChatConfig struct {
	HistoryLimit       int     `mapstructure:"history_limit" validate:"min=1,max=100"`
	SystemInstructions string  `mapstructure:"system_instructions"`
	PromptPrefix       string  `mapstructure:"prompt_prefix"`
	Temperature        float32 `mapstructure:"temperature" validate:"min=0,max=1"`
}

// TelegramConfig holds settings for the optional Telegram front-end.
// The front-end is enabled only when a token is present.
type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

// MaintenanceConfig controls the scheduled store maintenance task.
type MaintenanceConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Schedule      string `mapstructure:"schedule" validate:"required_if=Enabled true"`
	RetentionDays int    `mapstructure:"retention_days" validate:"min=0"`
}

// Load reads configuration from the given YAML file path, applies
// defaults and CHATD_* environment overrides, and validates the result.
// A missing config file is not an error; defaults and environment
// variables are used instead.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("CHATD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		// Config file not found is okay, we'll use defaults and env vars
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", true)

	v.SetDefault("database.path", "chat.db")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_delay", 2*time.Second)
	v.SetDefault("gemini.request_timeout", 2*time.Minute)

	v.SetDefault("chat.history_limit", 10)
	v.SetDefault("chat.system_instructions", "You are a helpful assistant focused on providing clear and accurate responses.")
	v.SetDefault("chat.prompt_prefix", "")
	v.SetDefault("chat.temperature", 0.7)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "0 4 * * *")
	v.SetDefault("maintenance.retention_days", 90)
}
