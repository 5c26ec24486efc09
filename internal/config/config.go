// Package config loads the client configuration.
//
// Sources, in increasing precedence: built-in defaults, an optional YAML
// config file, and BUNSHO_* environment variables. The resolved API base
// URL is computed once at startup; nothing re-reads the environment at
// request time.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all client settings.
type Config struct {
	// ServerURL is the API base URL used during local development, when no
	// deployed origin is configured.
	ServerURL string `mapstructure:"server_url" validate:"required,url"`

	// Origin is the deployed origin (e.g. "https://files.example.com");
	// when set, the API base URL becomes Origin + "/api".
	Origin string `mapstructure:"origin" validate:"omitempty,url"`

	// TokenFile overrides the session token file location. Empty selects
	// the per-user default.
	TokenFile string `mapstructure:"token_file"`

	// HTTPTimeout bounds each API request.
	HTTPTimeout time.Duration `mapstructure:"http_timeout" validate:"gt=0"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig controls log output behavior.
type LogConfig struct {
	// Level is the minimum log level: debug, info, warn, or error.
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`

	// Format selects the log encoder: console or json.
	Format string `mapstructure:"format" validate:"required,oneof=console json"`
}

// Load reads the configuration. With a non-empty path the named file must
// exist and parse; otherwise an optional config.yaml is searched for in the
// working directory and the per-user config directory.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server_url", "http://localhost:8000/api")
	v.SetDefault("origin", "")
	v.SetDefault("token_file", "")
	v.SetDefault("http_timeout", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("BUNSHO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// BaseURL resolves the API base URL from the loaded configuration. This is
// the only environment-conditioned behavior in the client.
func (c *Config) BaseURL() string {
	if c.Origin != "" {
		return strings.TrimRight(c.Origin, "/") + "/api"
	}
	return strings.TrimRight(c.ServerURL, "/")
}

// DefaultDir returns the per-user configuration directory.
func DefaultDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Bunsho")
		}
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "bunsho")
}
