package mcp

import (
	"context"
	"path/filepath"
	"testing"
)

func TestServerConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"stdio ok", ServerConfig{Command: "npx", Args: []string{"server"}}, false},
		{"http ok", ServerConfig{Type: "http", URL: "https://example.com/mcp"}, false},
		{"stdio missing command", ServerConfig{}, true},
		{"http missing url", ServerConfig{Type: "http"}, true},
		{"both url and command", ServerConfig{Command: "npx", URL: "https://example.com"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")

	cfg := &Config{}
	cfg.AddServer("files", ServerConfig{Command: "mcp-files", Args: []string{"--root", "/tmp"}})
	cfg.AddServer("remote", ServerConfig{Type: "http", URL: "https://example.com/mcp"})
	if err := cfg.SaveToPath(path); err != nil {
		t.Fatalf("SaveToPath() error = %v", err)
	}

	loaded, err := LoadConfigFromPath(path)
	if err != nil {
		t.Fatalf("LoadConfigFromPath() error = %v", err)
	}
	if len(loaded.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(loaded.Servers))
	}
	if loaded.Servers["files"].Command != "mcp-files" {
		t.Errorf("files command = %q", loaded.Servers["files"].Command)
	}
	remote := loaded.Servers["remote"]
	if remote.TransportType() != "http" {
		t.Errorf("remote transport = %q, want http", remote.TransportType())
	}

	if !loaded.RemoveServer("remote") {
		t.Error("RemoveServer returned false for existing server")
	}
	if loaded.RemoveServer("remote") {
		t.Error("RemoveServer returned true for missing server")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfigFromPath(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadConfigFromPath() error = %v", err)
	}
	if cfg.Servers == nil || len(cfg.Servers) != 0 {
		t.Errorf("expected empty server map, got %v", cfg.Servers)
	}
}

func TestParseToolName(t *testing.T) {
	server, tool := parseToolName("files__read_file")
	if server != "files" || tool != "read_file" {
		t.Errorf("parseToolName = %q, %q", server, tool)
	}

	server, tool = parseToolName("plain")
	if server != "" || tool != "plain" {
		t.Errorf("parseToolName unprefixed = %q, %q", server, tool)
	}
}

func TestManagerEnableUnknownServer(t *testing.T) {
	m := NewManager()
	m.SetConfig(&Config{Servers: map[string]ServerConfig{}})

	if err := m.Enable(context.Background(), "nope"); err == nil {
		t.Fatal("expected error enabling unknown server")
	}
	if status, _ := m.ServerStatus("nope"); status != StatusStopped {
		t.Errorf("status = %q, want stopped", status)
	}
}
