package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const envConfigPath = "HUMANLOOP_CONFIG"

// Config is the root runtime configuration.
type Config struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Bridge   BridgeConfig   `json:"bridge" yaml:"bridge"`
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
	Logging  LoggingConfig  `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// TelegramConfig configures the bot connection and the chat allow-list.
type TelegramConfig struct {
	Token     string   `json:"token" yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
	AllowFrom []string `json:"allow_from" yaml:"allow_from" env:"TELEGRAM_ALLOW_FROM" envSeparator:","`
}

// BridgeConfig tunes reply correlation.
type BridgeConfig struct {
	ReplyTimeoutSeconds int    `json:"reply_timeout_seconds,omitempty" yaml:"reply_timeout_seconds,omitempty" env:"HUMANLOOP_REPLY_TIMEOUT_SECONDS"`
	EchoPrefix          string `json:"echo_prefix,omitempty" yaml:"echo_prefix,omitempty" env:"HUMANLOOP_ECHO_PREFIX"`
}

// GatewayConfig configures the optional HTTP status server.
type GatewayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"HUMANLOOP_GATEWAY_ENABLED"`
	Host    string `json:"host" yaml:"host" env:"HUMANLOOP_GATEWAY_HOST"`
	Port    int    `json:"port" yaml:"port" env:"HUMANLOOP_GATEWAY_PORT"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" yaml:"format,omitempty" env:"HUMANLOOP_LOG_FORMAT"`
	Level     string `json:"level,omitempty" yaml:"level,omitempty" env:"HUMANLOOP_LOG_LEVEL"`
	AddSource bool   `json:"add_source,omitempty" yaml:"add_source,omitempty" env:"HUMANLOOP_LOG_ADD_SOURCE"`
}

// LoadConfig resolves the config file, decodes it, applies environment
// overrides and validates the result.
//
// explicitPath wins over HUMANLOOP_CONFIG, which wins over cwd-local
// defaults. When no file is named and none of the defaults exist, the
// configuration comes from the environment alone.
func LoadConfig(explicitPath string) (*Config, error) {
	configPath, err := findConfigPath(explicitPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configPath != "" {
		if err := decodeFile(configPath, &cfg); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment overrides: %w", err)
	}
	cfg.Telegram.AllowFrom = compact(cfg.Telegram.AllowFrom)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings startup cannot proceed without.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is required")
	}

	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or set TELEGRAM_BOT_TOKEN)"))
	}
	if len(compact(c.Telegram.AllowFrom)) == 0 {
		errs = append(errs, errors.New("telegram.allow_from must list at least one chat id (or set TELEGRAM_ALLOW_FROM)"))
	} else if _, err := c.Telegram.ChatIDs(); err != nil {
		errs = append(errs, err)
	}
	if c.Bridge.ReplyTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("bridge.reply_timeout_seconds must not be negative, got %d", c.Bridge.ReplyTimeoutSeconds))
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port))
	}

	return errors.Join(errs...)
}

// ChatIDs parses the allow-list into numeric chat identifiers.
func (t TelegramConfig) ChatIDs() ([]int64, error) {
	values := compact(t.AllowFrom)
	ids := make([]int64, 0, len(values))
	for _, value := range values {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("telegram.allow_from entry %q is not a numeric chat id", value)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// ReplyTimeout returns the configured deadline, or zero for the bridge default.
func (b BridgeConfig) ReplyTimeout() time.Duration {
	if b.ReplyTimeoutSeconds <= 0 {
		return 0
	}

	return time.Duration(b.ReplyTimeoutSeconds) * time.Second
}

func decodeFile(path string, cfg *Config) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	return nil
}

// compact trims values and drops empty ones.
func compact(values []string) []string {
	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location. An empty result
// means no file applies.
func findConfigPath(explicitPath string) (string, error) {
	if value := strings.TrimSpace(explicitPath); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("config path does not point to a file: %s", value)
	}

	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "humanloop.json"),
		filepath.Join(cwd, "humanloop.yaml"),
		filepath.Join(cwd, "config", "humanloop.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
