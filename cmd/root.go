package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/parleychat/parley/internal/logging"
	"github.com/parleychat/parley/internal/profile"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Chat with AI models from the terminal",
	Long: `parley streams conversations with AI models, with persistent history,
tool calling via MCP servers, and automatic context compression.

Examples:
  parley chat "explain io.Reader vs io.Writer"
  parley chat --conversation 1a2b3c "and what about io.Closer?"
  parley conversations                  # list recent conversations
  parley conversations search "reader"
  parley profiles                       # list configured model profiles`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	Version:           Version,
}

var logLevel string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the application config once per command invocation.
func loadConfig() (*profile.Config, error) {
	cfg, err := profile.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the command's logger, honoring --log-level over the
// configured level.
func newLogger(cfg *profile.Config) zerolog.Logger {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	return logging.New(os.Stderr, level)
}
