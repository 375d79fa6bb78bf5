package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parleychat/parley/internal/conversation"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convos"},
	Short:   "Manage conversations",
	Long: `List, search, show, rename, and delete conversations.

Examples:
  parley conversations                    # List recent conversations
  parley conversations list --profile work
  parley conversations search "tokenizer"
  parley conversations show <id>
  parley conversations rename <id> "Auth refactor"
  parley conversations delete <id>`,
	RunE: runConversationsList, // Default to list
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE:  runConversationsList,
}

var conversationsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search across message history",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runConversationsSearch,
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a conversation's messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsShow,
}

var conversationsRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Set a conversation's title",
	Args:  cobra.ExactArgs(2),
	RunE:  runConversationsRename,
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation and its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsDelete,
}

// Flags
var (
	conversationsProfile  string
	conversationsLimit    int
	conversationsArchived bool
	conversationsJSON     bool
)

func init() {
	conversationsListCmd.Flags().StringVar(&conversationsProfile, "profile", "", "Filter by profile")
	conversationsListCmd.Flags().IntVar(&conversationsLimit, "limit", 20, "Maximum number of conversations to list")
	conversationsListCmd.Flags().BoolVar(&conversationsArchived, "archived", false, "Include archived conversations")

	conversationsShowCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output as JSON")

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsSearchCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsRenameCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)

	rootCmd.AddCommand(conversationsCmd)
}

func getStore() (conversation.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return conversation.NewSQLiteStore(cfg.Storage)
}

func runConversationsList(cmd *cobra.Command, args []string) error {
	store, err := getStore()
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(context.Background(), conversation.ListOptions{
		ProfileID: conversationsProfile,
		Limit:     conversationsLimit,
		Archived:  conversationsArchived,
	})
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	if len(summaries) == 0 {
		fmt.Println("No conversations found.")
		return nil
	}

	fmt.Printf("%-10s %-40s %-10s %5s %-13s %s\n",
		"ID", "TITLE", "PROFILE", "MSGS", "TOKENS", "UPDATED")
	fmt.Println(strings.Repeat("-", 95))
	for _, s := range summaries {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		if len(title) > 40 {
			title = title[:37] + "..."
		}
		fmt.Printf("%-10s %-40s %-10s %5d %6d/%-6d %s\n",
			shortID(s.ID), title, s.ProfileID, s.MessageCount,
			s.InputTokens, s.OutputTokens, humanAge(s.UpdatedAt))
	}
	return nil
}

func runConversationsSearch(cmd *cobra.Command, args []string) error {
	store, err := getStore()
	if err != nil {
		return err
	}
	defer store.Close()

	query := strings.Join(args, " ")
	results, err := store.Search(context.Background(), query, 20)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}

	for _, r := range results {
		title := r.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %s\n    %s\n", shortID(r.ConversationID), title, r.Snippet)
	}
	return nil
}

func runConversationsShow(cmd *cobra.Command, args []string) error {
	store, err := getStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	conv, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %s not found", args[0])
	}
	messages, err := store.GetMessages(ctx, conv.ID)
	if err != nil {
		return err
	}

	if conversationsJSON {
		out := struct {
			Conversation *conversation.Conversation `json:"conversation"`
			Messages     []conversation.Message     `json:"messages"`
		}{conv, messages}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	title := conv.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Printf("%s  [%s]  %d messages\n\n", title, conv.ProfileID, len(messages))
	for _, m := range messages {
		fmt.Printf("--- %s", m.Role)
		if m.ModelID != "" {
			fmt.Printf(" (%s)", m.ModelID)
		}
		fmt.Println(" ---")
		for _, tc := range m.ToolCalls {
			fmt.Printf("[tool %s] %s\n", tc.Name, tc.Result)
		}
		fmt.Println(m.Content)
		fmt.Println()
	}
	return nil
}

func runConversationsRename(cmd *cobra.Command, args []string) error {
	store, err := getStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Rename(context.Background(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Renamed %s\n", shortID(args[0]))
	return nil
}

func runConversationsDelete(cmd *cobra.Command, args []string) error {
	store, err := getStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", shortID(args[0]))
	return nil
}

// humanAge renders a timestamp as a rough age like "2h" or "3d".
func humanAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
