package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/conversation"
	"github.com/parleychat/parley/internal/mcp"
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message and stream the reply",
	Long: `Send a message to a conversation and stream the model's reply.

Without --conversation a new conversation is created. Ctrl-C cancels the
in-flight reply; the partial output is kept in history.

Examples:
  parley chat "explain goroutine leaks"
  parley chat --profile fast "quick sanity check on this regex: ^a+$"
  parley chat --conversation 1a2b3c "continue that thought"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

var (
	chatConversation string
	chatProfile      string
	chatNoTools      bool
)

func init() {
	chatCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "Continue an existing conversation")
	chatCmd.Flags().StringVarP(&chatProfile, "profile", "p", "", "Model profile for new conversations")
	chatCmd.Flags().BoolVar(&chatNoTools, "no-tools", false, "Skip starting MCP servers")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	store, err := conversation.NewSQLiteStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	var bridge *chat.Bridge
	manager := mcp.NewManager()
	if !chatNoTools {
		if err := manager.LoadConfig(); err != nil {
			log.Warn().Err(err).Msg("failed to load MCP config")
		} else if err := manager.EnableAll(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to start MCP servers")
		}
		defer manager.StopAll()
		bridge = chat.NewBridge(log, manager)
	}

	svc := chat.NewService(chat.Options{
		Store:             store,
		Config:            cfg,
		Tools:             bridge,
		Logger:            log,
		MaxConcurrentRuns: int64(cfg.MaxConcurrentRuns),
	})

	handle, err := svc.SendMessage(ctx, chat.SendRequest{
		ConversationID: chatConversation,
		ProfileID:      chatProfile,
		Text:           strings.Join(args, " "),
	})
	if err != nil {
		return err
	}

	// Ctrl-C cancels the run; the event loop then drains to the terminal
	// Cancelled event.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		if err := svc.Cancel(handle.ID); err != nil {
			log.Debug().Err(err).Msg("cancel request rejected")
		}
	}()

	return streamToTerminal(handle)
}

// streamToTerminal renders a run's events to stdout and returns an error for
// a terminal Error event.
func streamToTerminal(handle *chat.RunHandle) error {
	inThinking := false
	for ev := range handle.Events() {
		switch ev.Type {
		case chat.EventThinkingDelta:
			if !inThinking {
				fmt.Fprint(os.Stderr, "\n[thinking] ")
				inThinking = true
			}
			fmt.Fprint(os.Stderr, ev.Text)
		case chat.EventTextDelta:
			if inThinking {
				fmt.Fprintln(os.Stderr)
				inThinking = false
			}
			fmt.Print(ev.Text)
		case chat.EventToolStart:
			fmt.Fprintf(os.Stderr, "\n[tool] %s %s\n", ev.ToolName, compactArgs(ev.ToolArgs))
		case chat.EventToolComplete:
			if ev.ToolIsError {
				fmt.Fprintf(os.Stderr, "[tool] %s failed: %s\n", ev.ToolName, ev.ToolResult)
			}
		case chat.EventComplete:
			fmt.Println()
			if ev.Usage != nil {
				fmt.Fprintf(os.Stderr, "\n(%d in / %d out tokens, conversation %s)\n",
					ev.Usage.InputTokens, ev.Usage.OutputTokens, shortID(ev.ConversationID))
			} else {
				fmt.Fprintf(os.Stderr, "\n(conversation %s)\n", shortID(ev.ConversationID))
			}
		case chat.EventCancelled:
			fmt.Println("\n[cancelled]")
		case chat.EventError:
			fmt.Println()
			return ev.Err
		}
	}
	return nil
}

// compactArgs renders tool arguments on one line, truncated.
func compactArgs(args []byte) string {
	s := strings.Join(strings.Fields(string(args)), " ")
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}

// shortID returns the first 8 characters of an ID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
