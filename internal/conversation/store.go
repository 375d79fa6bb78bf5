package conversation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Store is the interface for conversation persistence.
type Store interface {
	// Conversation CRUD
	Create(ctx context.Context, c *Conversation) error
	Get(ctx context.Context, id string) (*Conversation, error)
	Rename(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) error

	// Listing and search
	List(ctx context.Context, opts ListOptions) ([]Summary, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// Message operations
	AddMessage(ctx context.Context, conversationID string, msg *Message) error
	GetMessages(ctx context.Context, conversationID string) ([]Message, error)

	// Compression cache and usage accounting
	SetContextState(ctx context.Context, id string, state *ContextState) error
	AddUsage(ctx context.Context, id string, inputTokens, outputTokens int) error

	// Lifecycle
	Close() error
}

// Config holds conversation storage configuration.
type Config struct {
	Path       string `mapstructure:"path"`         // Database path override (default: XDG data dir)
	MaxAgeDays int    `mapstructure:"max_age_days"` // Auto-delete after N days (0=never)
	MaxCount   int    `mapstructure:"max_count"`    // Keep at most N conversations (0=unlimited)
}

// GetDataDir returns the XDG data directory for parley.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "parley"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "parley"), nil
}

// DefaultDBPath returns the path to the conversations database.
func DefaultDBPath() (string, error) {
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "conversations.db"), nil
}
