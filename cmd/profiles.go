package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/parleychat/parley/internal/profile"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List configured model profiles",
	Long: `List the model profiles from config.yaml. The default profile is
marked with an asterisk.`,
	RunE: runProfiles,
}

var profilesInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config.yaml",
	RunE:  runProfilesInit,
}

func init() {
	profilesCmd.AddCommand(profilesInitCmd)
	rootCmd.AddCommand(profilesCmd)
}

func runProfiles(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ids := cfg.IDs()
	sort.Strings(ids)

	fmt.Printf("%-14s %-14s %-28s %s\n", "PROFILE", "PROVIDER", "MODEL", "CONTEXT")
	fmt.Println(strings.Repeat("-", 70))
	for _, id := range ids {
		p := cfg.Profiles[id]
		name := id
		if id == cfg.DefaultProfile {
			name = id + " *"
		}
		model := p.Model
		if model == "" && p.BaseURL != "" {
			model = "(server default)"
		}
		contextTokens := p.ContextTokens
		if contextTokens == 0 {
			contextTokens = profile.DefaultContextTokens
		}
		fmt.Printf("%-14s %-14s %-28s %d\n", name, p.Provider, model, contextTokens)
	}
	return nil
}

// starterProfile mirrors the config file shape for the generated example.
type starterProfile struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model,omitempty"`
	BaseURL       string `yaml:"base_url,omitempty"`
	APIKey        string `yaml:"api_key,omitempty"`
	ContextTokens int    `yaml:"context_tokens,omitempty"`
	SystemPrompt  string `yaml:"system_prompt,omitempty"`
}

type starterConfig struct {
	DefaultProfile string                    `yaml:"default_profile"`
	Profiles       map[string]starterProfile `yaml:"profiles"`
}

func runProfilesInit(cmd *cobra.Command, args []string) error {
	path, err := profile.GetConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	starter := starterConfig{
		DefaultProfile: "default",
		Profiles: map[string]starterProfile{
			"default": {
				Provider: "anthropic",
				Model:    "claude-sonnet-4-5",
				APIKey:   "${ANTHROPIC_API_KEY}",
			},
			"fast": {
				Provider: "openai",
				Model:    "gpt-5-mini",
				APIKey:   "${OPENAI_API_KEY}",
			},
			"local": {
				Provider: "openai-compat",
				BaseURL:  "http://localhost:11434/v1",
				Model:    "llama3",
			},
		},
	}

	data, err := yaml.Marshal(&starter)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
