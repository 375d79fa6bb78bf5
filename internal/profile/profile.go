package profile

import (
	"fmt"
	"os"
	"strings"
)

// Profile describes a named model configuration. Conversations are bound to a
// profile so follow-up turns keep using the same provider and settings.
type Profile struct {
	ID              string   `mapstructure:"-"`
	Provider        string   `mapstructure:"provider"` // anthropic, openai, gemini, openai-compat
	Model           string   `mapstructure:"model"`
	BaseURL         string   `mapstructure:"base_url"` // required for openai-compat
	SystemPrompt    string   `mapstructure:"system_prompt"`
	Temperature     *float64 `mapstructure:"temperature"`
	TopP            *float64 `mapstructure:"top_p"`
	MaxOutputTokens int      `mapstructure:"max_output_tokens"`
	ContextTokens   int      `mapstructure:"context_tokens"` // model context window used for compression
	ThinkingBudget  int      `mapstructure:"thinking_budget"`
	APIKey          string   `mapstructure:"api_key"`  // literal key or ${ENV_VAR}
	KeyFile         string   `mapstructure:"key_file"` // path to a file holding the key
}

// DefaultContextTokens is assumed when a profile does not declare its model's
// context window.
const DefaultContextTokens = 128000

// envVarFor returns the conventional environment variable for a provider's
// API key.
func envVarFor(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// resolveCredentials fills in p.APIKey from the config value, a key file, or
// the provider's environment variable, in that order.
func resolveCredentials(p *Profile) error {
	p.APIKey = expandEnv(p.APIKey)
	if p.APIKey == "" && p.KeyFile != "" {
		data, err := os.ReadFile(expandHome(p.KeyFile))
		if err != nil {
			return fmt.Errorf("failed to read key file %s: %w", p.KeyFile, err)
		}
		p.APIKey = strings.TrimSpace(string(data))
	}
	if p.APIKey == "" {
		if envVar := envVarFor(p.Provider); envVar != "" {
			p.APIKey = os.Getenv(envVar)
		}
	}
	// openai-compat servers (Ollama, LM Studio) typically run without keys
	if p.APIKey == "" && p.Provider != "openai-compat" {
		return fmt.Errorf("no API key for provider %q: set api_key, key_file, or %s", p.Provider, envVarFor(p.Provider))
	}
	return nil
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// expandHome expands a leading ~/ to the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
