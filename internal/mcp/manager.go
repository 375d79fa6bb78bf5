package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/parleychat/parley/internal/llm"
)

// ServerStatus is the lifecycle state of a managed server.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusFailed   ServerStatus = "failed"
)

// Manager supervises the configured MCP servers and presents their tools to
// the chat engine as one flat toolset, each tool prefixed with its server
// name. Servers connect in the background; one failing to come up removes
// only its own tools from the set.
type Manager struct {
	mu      sync.RWMutex
	config  *Config
	servers map[string]*serverState
}

type serverState struct {
	status ServerStatus
	err    error
	client *Client
}

func NewManager() *Manager {
	return &Manager{servers: make(map[string]*serverState)}
}

// LoadConfig reads mcp.json from the config directory.
func (m *Manager) LoadConfig() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	m.SetConfig(cfg)
	return nil
}

// SetConfig replaces the configuration. Running servers are not touched.
func (m *Manager) SetConfig(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// Enable launches a configured server. The connection is established in the
// background; the server's tools appear once it reports ready. Enabling a
// server that is already starting or ready is a no-op.
func (m *Manager) Enable(ctx context.Context, name string) error {
	m.mu.Lock()
	if m.config == nil {
		m.mu.Unlock()
		return fmt.Errorf("no MCP configuration loaded")
	}
	serverCfg, ok := m.config.Servers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown MCP server: %s", name)
	}
	if state, ok := m.servers[name]; ok {
		if state.status == StatusStarting || state.status == StatusReady {
			m.mu.Unlock()
			return nil
		}
	}
	client := NewClient(name, serverCfg)
	m.servers[name] = &serverState{status: StatusStarting, client: client}
	m.mu.Unlock()

	go func() {
		err := client.Start(ctx)

		m.mu.Lock()
		defer m.mu.Unlock()
		state := m.servers[name]
		if state == nil || state.client != client {
			// Stopped while starting; the result no longer matters.
			return
		}
		if err != nil {
			state.status = StatusFailed
			state.err = err
		} else {
			state.status = StatusReady
		}
	}()

	return nil
}

// EnableAll launches every configured server.
func (m *Manager) EnableAll(ctx context.Context) error {
	m.mu.RLock()
	var names []string
	if m.config != nil {
		names = m.config.ServerNames()
	}
	m.mu.RUnlock()

	for _, name := range names {
		if err := m.Enable(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// StopAll shuts down every running server.
func (m *Manager) StopAll() {
	m.mu.Lock()
	stopping := make([]*Client, 0, len(m.servers))
	for _, state := range m.servers {
		if state.client != nil {
			stopping = append(stopping, state.client)
		}
	}
	m.servers = make(map[string]*serverState)
	m.mu.Unlock()

	for _, client := range stopping {
		client.Stop()
	}
}

// ServerStatus reports a server's lifecycle state and, for failed servers,
// the startup error.
func (m *Manager) ServerStatus(name string) (ServerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.servers[name]
	if !ok {
		return StatusStopped, nil
	}
	return state.status, state.err
}

// ListTools returns the tools of every ready server. Names come back
// prefixed server__tool so two servers can expose the same tool.
func (m *Manager) ListTools(ctx context.Context) []llm.ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var specs []llm.ToolSpec
	for name, state := range m.servers {
		if state.status != StatusReady {
			continue
		}
		for _, tool := range state.client.Tools() {
			specs = append(specs, llm.ToolSpec{
				Name:        name + "__" + tool.Name,
				Description: fmt.Sprintf("[%s] %s", name, tool.Description),
				Schema:      tool.Schema,
			})
		}
	}
	return specs
}

// Owns reports whether a prefixed tool name routes to a ready server.
func (m *Manager) Owns(fullName string) bool {
	server, _ := parseToolName(fullName)
	if server == "" {
		return false
	}
	status, _ := m.ServerStatus(server)
	return status == StatusReady
}

// Call routes a prefixed tool call to its server.
func (m *Manager) Call(ctx context.Context, fullName string, args json.RawMessage) (string, error) {
	server, tool := parseToolName(fullName)
	if server == "" {
		return "", fmt.Errorf("malformed tool name %q, want server__tool", fullName)
	}

	m.mu.RLock()
	state, ok := m.servers[server]
	m.mu.RUnlock()
	if !ok || state.status != StatusReady {
		return "", fmt.Errorf("MCP server %s is not running", server)
	}
	return state.client.CallTool(ctx, tool, args)
}

// parseToolName splits server__tool at the first double underscore.
func parseToolName(fullName string) (string, string) {
	server, tool, ok := strings.Cut(fullName, "__")
	if !ok {
		return "", fullName
	}
	return server, tool
}
