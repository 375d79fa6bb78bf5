package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parleychat/parley/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Manage MCP tool servers",
	Long: `Manage the MCP servers configured in mcp.json. Tools from running
servers are offered to the model during chat, named servername__toolname.

Examples:
  parley mcp list
  parley mcp add files -- npx -y @modelcontextprotocol/server-filesystem /tmp
  parley mcp remove files`,
	RunE: runMCPList,
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured servers",
	RunE:  runMCPList,
}

var mcpAddCmd = &cobra.Command{
	Use:   "add <name> -- <command> [args...]",
	Short: "Add a stdio server",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runMCPAdd,
}

var mcpRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a server",
	Args:  cobra.ExactArgs(1),
	RunE:  runMCPRemove,
}

func init() {
	mcpCmd.AddCommand(mcpListCmd)
	mcpCmd.AddCommand(mcpAddCmd)
	mcpCmd.AddCommand(mcpRemoveCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPList(cmd *cobra.Command, args []string) error {
	cfg, err := mcp.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load MCP config: %w", err)
	}

	names := cfg.ServerNames()
	if len(names) == 0 {
		fmt.Println("No MCP servers configured.")
		return nil
	}
	sort.Strings(names)

	fmt.Printf("%-16s %-8s %s\n", "NAME", "TYPE", "TARGET")
	fmt.Println(strings.Repeat("-", 60))
	for _, name := range names {
		server := cfg.Servers[name]
		target := server.URL
		if server.TransportType() == "stdio" {
			target = strings.TrimSpace(server.Command + " " + strings.Join(server.Args, " "))
		}
		fmt.Printf("%-16s %-8s %s\n", name, server.TransportType(), target)
	}
	return nil
}

func runMCPAdd(cmd *cobra.Command, args []string) error {
	name := args[0]
	server := mcp.ServerConfig{
		Command: args[1],
		Args:    args[2:],
	}
	if err := server.Validate(); err != nil {
		return err
	}

	cfg, err := mcp.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load MCP config: %w", err)
	}
	cfg.AddServer(name, server)
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save MCP config: %w", err)
	}
	fmt.Printf("Added MCP server %q\n", name)
	return nil
}

func runMCPRemove(cmd *cobra.Command, args []string) error {
	cfg, err := mcp.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load MCP config: %w", err)
	}
	if !cfg.RemoveServer(args[0]) {
		return fmt.Errorf("unknown MCP server: %s", args[0])
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save MCP config: %w", err)
	}
	fmt.Printf("Removed MCP server %q\n", args[0])
	return nil
}
