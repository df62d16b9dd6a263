// Package config loads and validates archivist configuration via Viper.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all toolkit configuration knobs loaded via Viper.
type Config struct {
	DataDir     string            `mapstructure:"data_dir"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Server      ServerConfig      `mapstructure:"server"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Pinboard    PinboardConfig    `mapstructure:"pinboard"`
	Pinterest   PinterestConfig   `mapstructure:"pinterest"`
	Screenshots ScreenshotsConfig `mapstructure:"screenshots"`
	Embed       EmbedConfig       `mapstructure:"embed"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SyncConfig governs per-source sync run behavior.
type SyncConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	ItemTimeoutSeconds int `mapstructure:"item_timeout_seconds"`
	ThumbWidth         int `mapstructure:"thumb_width"`
}

// PinboardConfig configures the Pinboard bookmark source.
type PinboardConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	APIToken          string `mapstructure:"api_token"`
	MaxParallelPages  int    `mapstructure:"max_parallel_pages"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	UserAgent         string `mapstructure:"user_agent"`
}

// PinterestConfig configures the Pinterest board source.
type PinterestConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Boards         []string `mapstructure:"boards"`
	UserAgent      string   `mapstructure:"user_agent"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// ScreenshotsConfig configures the local screenshots source.
type ScreenshotsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
}

// EmbedConfig points at the local embedding inference endpoint.
type EmbedConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "archivist", "config.json"), nil
}

// Load builds a Config from disk/environment. An empty path means the
// default per-user location; a missing file there is not an error and
// defaults plus environment variables apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	explicit := path != ""
	if !explicit {
		var err error
		if path, err = DefaultPath(); err != nil {
			return Config{}, err
		}
	}

	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("data_dir", filepath.Join(home, ".archivist"))
	v.SetDefault("logging.development", false)
	v.SetDefault("server.port", 8092)
	v.SetDefault("sync.concurrency", 10)
	v.SetDefault("sync.item_timeout_seconds", 90)
	v.SetDefault("sync.thumb_width", 400)
	v.SetDefault("pinboard.enabled", false)
	v.SetDefault("pinboard.max_parallel_pages", 2)
	v.SetDefault("pinboard.nav_timeout_seconds", 45)
	v.SetDefault("pinterest.enabled", false)
	v.SetDefault("pinterest.timeout_seconds", 30)
	v.SetDefault("screenshots.enabled", false)
	v.SetDefault("embed.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync.concurrency must be > 0")
	}
	if c.Sync.ItemTimeoutSeconds <= 0 {
		return fmt.Errorf("sync.item_timeout_seconds must be > 0")
	}
	if c.Pinboard.Enabled && c.Pinboard.APIToken == "" {
		return fmt.Errorf("pinboard.api_token must be set when pinboard is enabled")
	}
	if c.Pinterest.Enabled && len(c.Pinterest.Boards) == 0 {
		return fmt.Errorf("pinterest.boards must be set when pinterest is enabled")
	}
	if c.Screenshots.Enabled && c.Screenshots.Directory == "" {
		return fmt.Errorf("screenshots.directory must be set when screenshots is enabled")
	}
	if c.Embed.Enabled && c.Embed.Endpoint == "" {
		return fmt.Errorf("embed.endpoint must be set when embed is enabled")
	}
	return nil
}

// EnabledSources lists the source names this config turns on, in the
// order fetch runs them.
func (c Config) EnabledSources() []string {
	var names []string
	if c.Pinboard.Enabled {
		names = append(names, "pinboard")
	}
	if c.Pinterest.Enabled {
		names = append(names, "pinterest")
	}
	if c.Screenshots.Enabled {
		names = append(names, "screenshots")
	}
	return names
}

// ItemTimeout converts the sync timeout knob into a duration.
func (c Config) ItemTimeout() time.Duration {
	return time.Duration(c.Sync.ItemTimeoutSeconds) * time.Second
}

// EnsureFile writes a commented-out starter config at path when no file
// exists yet, creating parent directories as needed.
func EnsureFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	starter := map[string]any{
		"data_dir": filepath.Join(home, ".archivist"),
		"logging":  map[string]any{"development": false},
		"server":   map[string]any{"port": 8092},
		"sync": map[string]any{
			"concurrency":          10,
			"item_timeout_seconds": 90,
			"thumb_width":          400,
		},
		"pinboard": map[string]any{
			"enabled":   false,
			"api_token": "",
		},
		"pinterest": map[string]any{
			"enabled": false,
			"boards":  []string{},
		},
		"screenshots": map[string]any{
			"enabled":   false,
			"directory": "",
		},
		"embed": map[string]any{
			"enabled":  false,
			"endpoint": "",
		},
	}

	data, err := json.MarshalIndent(starter, "", "  ")
	if err != nil {
		return fmt.Errorf("encode starter config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
