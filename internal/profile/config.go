package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/parleychat/parley/internal/conversation"
)

// ErrNotFound marks a lookup of a profile that is not configured.
var ErrNotFound = errors.New("profile not found")

// Config is the top-level application configuration, loaded from
// $XDG_CONFIG_HOME/parley/config.yaml.
type Config struct {
	DefaultProfile    string              `mapstructure:"default_profile"`
	Profiles          map[string]Profile  `mapstructure:"profiles"`
	Storage           conversation.Config `mapstructure:"storage"`
	MaxConcurrentRuns int                 `mapstructure:"max_concurrent_runs"`
	LogLevel          string              `mapstructure:"log_level"`
}

// Load reads the config file and applies defaults.
func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	v.SetDefault("default_profile", "default")
	v.SetDefault("max_concurrent_runs", 4)
	v.SetDefault("log_level", "info")

	// Read config file (optional - won't error if missing)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	if _, ok := cfg.Profiles[cfg.DefaultProfile]; !ok && cfg.DefaultProfile == "default" {
		// Out-of-the-box profile so the CLI works with just an env var set.
		cfg.Profiles["default"] = Profile{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-5",
		}
	}

	for id, p := range cfg.Profiles {
		p.ID = id
		cfg.Profiles[id] = p
	}

	return &cfg, nil
}

// Resolve looks up a profile by ID (empty means the default profile),
// resolves its credentials, and fills in defaults. The returned profile is a
// copy; the stored config is never mutated.
func (c *Config) Resolve(id string) (*Profile, error) {
	if id == "" {
		id = c.DefaultProfile
	}
	stored, ok := c.Profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %q: %w", id, ErrNotFound)
	}

	p := stored
	p.ID = id
	if p.Provider == "" {
		return nil, fmt.Errorf("profile %q has no provider", id)
	}
	if p.Model == "" && p.Provider != "openai-compat" {
		return nil, fmt.Errorf("profile %q has no model", id)
	}
	if p.ContextTokens == 0 {
		p.ContextTokens = DefaultContextTokens
	}
	if err := resolveCredentials(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// IDs returns the configured profile names in no particular order.
func (c *Config) IDs() []string {
	ids := make([]string, 0, len(c.Profiles))
	for id := range c.Profiles {
		ids = append(ids, id)
	}
	return ids
}

// GetConfigDir returns the XDG config directory for parley.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "parley"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "parley"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}
