package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// VaultConfig holds all configuration for the token vault.
// Tags use mapstructure for Viper unmarshalling; values come from environment
// variables, an optional config.yaml, and defaults, in that order.
type VaultConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"` // Empty disables the shared state store.
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogPretty   bool   `mapstructure:"LOG_PRETTY"`

	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// TokenEncryptionKey is the codec key material: either 64 hex characters
	// (decoded to a raw 32-byte key) or an arbitrary passphrase.
	TokenEncryptionKey string `mapstructure:"TOKEN_ENCRYPTION_KEY"`

	MetaAppID       string `mapstructure:"META_APP_ID"`
	MetaAppSecret   string `mapstructure:"META_APP_SECRET"`
	MetaRedirectURI string `mapstructure:"META_REDIRECT_URI"`
	MetaGraphURL    string `mapstructure:"META_GRAPH_URL"`

	// Lifecycle windows. These mirror Meta's own long-lived token policy but
	// are deliberately configuration, not literals.
	TokenTTLDays         int `mapstructure:"TOKEN_TTL_DAYS"`
	RefreshWindowDays    int `mapstructure:"REFRESH_WINDOW_DAYS"`
	InactivityWindowDays int `mapstructure:"INACTIVITY_WINDOW_DAYS"`

	// StateTTLMin bounds how long an issued OAuth state nonce stays valid.
	StateTTLMin int `mapstructure:"STATE_TTL_MIN"`
}

// TokenTTL returns the long-lived token lifetime as a duration.
func (c *VaultConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLDays) * 24 * time.Hour
}

// RefreshWindow returns the proactive-refresh window as a duration.
func (c *VaultConfig) RefreshWindow() time.Duration {
	return time.Duration(c.RefreshWindowDays) * 24 * time.Hour
}

// InactivityWindow returns the cleanup inactivity window as a duration.
func (c *VaultConfig) InactivityWindow() time.Duration {
	return time.Duration(c.InactivityWindowDays) * 24 * time.Hour
}

// StateTTL returns the OAuth state nonce lifetime as a duration.
func (c *VaultConfig) StateTTL() time.Duration {
	return time.Duration(c.StateTTLMin) * time.Minute
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*VaultConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/tokenvault/")
	v.AddConfigPath("$HOME/.tokenvault")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/autopost_dev")
	v.SetDefault("MONGO_DB_NAME", "autopost_dev")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "autopost-tokenvault")
	v.SetDefault("META_GRAPH_URL", "https://graph.facebook.com/v21.0")
	v.SetDefault("TOKEN_TTL_DAYS", 60)
	v.SetDefault("REFRESH_WINDOW_DAYS", 7)
	v.SetDefault("INACTIVITY_WINDOW_DAYS", 90)
	v.SetDefault("STATE_TTL_MIN", 10)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, we run on env vars and defaults.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg VaultConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if cfg.TokenEncryptionKey == "" {
		return nil, errors.New("TOKEN_ENCRYPTION_KEY is required")
	}

	return &cfg, nil
}
