package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parleychat/parley/internal/profile"
)

// Config is the mcp.json file: a named set of tool servers.
type Config struct {
	Servers map[string]ServerConfig `json:"servers"`
}

// ServerConfig describes one MCP server. A command launches a stdio server,
// a URL names a streamable HTTP endpoint; exactly one of the two applies.
type ServerConfig struct {
	Type    string            `json:"type,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// TransportType resolves the server's transport: an explicit type wins,
// otherwise a URL implies http and anything else is stdio.
func (c *ServerConfig) TransportType() string {
	if c.Type != "" {
		return c.Type
	}
	if c.URL != "" {
		return "http"
	}
	return "stdio"
}

func (c *ServerConfig) Validate() error {
	if c.Command != "" && c.URL != "" {
		return errors.New("server cannot have both a command and a url")
	}
	switch c.TransportType() {
	case "http":
		if c.URL == "" {
			return errors.New("http server needs a url")
		}
	case "stdio":
		if c.Command == "" {
			return errors.New("stdio server needs a command")
		}
	default:
		return fmt.Errorf("unknown transport type %q", c.Type)
	}
	return nil
}

// ConfigPath returns the mcp.json location, next to the main config file.
func ConfigPath() (string, error) {
	dir, err := profile.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mcp.json"), nil
}

// LoadConfig reads mcp.json from the config directory. A missing file is an
// empty configuration, not an error.
func LoadConfig() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadConfigFromPath(path)
}

func LoadConfigFromPath(path string) (*Config, error) {
	cfg := &Config{Servers: make(map[string]ServerConfig)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid MCP config %s: %w", path, err)
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]ServerConfig)
	}
	return cfg, nil
}

// Save writes the configuration back to the config directory.
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveToPath(path)
}

func (c *Config) SaveToPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ServerNames returns the configured server names in no particular order.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	return names
}

// AddServer adds or replaces a server entry.
func (c *Config) AddServer(name string, cfg ServerConfig) {
	if c.Servers == nil {
		c.Servers = make(map[string]ServerConfig)
	}
	c.Servers[name] = cfg
}

// RemoveServer drops a server entry, reporting whether it existed.
func (c *Config) RemoveServer(name string) bool {
	if _, ok := c.Servers[name]; !ok {
		return false
	}
	delete(c.Servers, name)
	return true
}
