package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultDeckAPIBaseURL = "https://deckofcardsapi.com/api/deck"
	DefaultModel          = "claude-3-7-sonnet-latest"
	DefaultMaxTokens      = 5000
	DefaultRequestTimeout = 30 * time.Second

	dotEnvFile = ".env"
)

var ErrMissingAPIKey = errors.New("ANTHROPIC_API_KEY が設定されていません")

// Config is read once at startup and passed explicitly to every component.
type Config struct {
	AnthropicAPIKey string        `mapstructure:"anthropic_api_key"`
	Model           string        `mapstructure:"anthropic_model"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	DeckAPIBaseURL  string        `mapstructure:"deck_api_base_url"`
	LogLevel        string        `mapstructure:"log_level"`
}

// Load reads configuration from path, or from ./.env when path is empty and
// the file exists, and lets environment variables override either.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("anthropic_model", DefaultModel)
	v.SetDefault("max_tokens", DefaultMaxTokens)
	v.SetDefault("request_timeout", DefaultRequestTimeout.String())
	v.SetDefault("deck_api_base_url", DefaultDeckAPIBaseURL)
	v.SetDefault("log_level", "info")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path == "" {
		if _, err := os.Stat(dotEnvFile); err == nil {
			path = dotEnvFile
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if strings.HasSuffix(path, ".env") {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("設定の解析に失敗しました: %w", err)
	}

	config.DeckAPIBaseURL = strings.TrimRight(config.DeckAPIBaseURL, "/")

	return &config, nil
}

// Validate checks the settings the agent process cannot start without.
func (c *Config) Validate() error {
	if c.AnthropicAPIKey == "" {
		return ErrMissingAPIKey
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout は正の値である必要があります: %s", c.RequestTimeout)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}

	return level
}
