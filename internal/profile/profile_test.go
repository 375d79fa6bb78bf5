package profile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testConfig() *Config {
	return &Config{
		DefaultProfile: "default",
		Profiles: map[string]Profile{
			"default": {Provider: "anthropic", Model: "claude-sonnet-4-5", APIKey: "sk-literal"},
			"fast":    {Provider: "openai", Model: "gpt-5-mini", APIKey: "${TEST_OPENAI_KEY}"},
			"local":   {Provider: "openai-compat", BaseURL: "http://localhost:11434/v1", Model: "llama3"},
		},
	}
}

func TestResolveDefaultProfile(t *testing.T) {
	cfg := testConfig()

	p, err := cfg.Resolve("")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.ID != "default" {
		t.Errorf("ID = %q, want default", p.ID)
	}
	if p.APIKey != "sk-literal" {
		t.Errorf("APIKey = %q", p.APIKey)
	}
	if p.ContextTokens != DefaultContextTokens {
		t.Errorf("ContextTokens = %d, want default %d", p.ContextTokens, DefaultContextTokens)
	}
}

func TestResolveExpandsEnvKey(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")
	cfg := testConfig()

	p, err := cfg.Resolve("fast")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want sk-from-env", p.APIKey)
	}
}

func TestResolveFallsBackToProviderEnvVar(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ambient")
	cfg := testConfig()
	prof := cfg.Profiles["default"]
	prof.APIKey = ""
	cfg.Profiles["default"] = prof

	p, err := cfg.Resolve("default")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.APIKey != "sk-ambient" {
		t.Errorf("APIKey = %q, want sk-ambient", p.APIKey)
	}
}

func TestResolveReadsKeyFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(keyPath, []byte("sk-from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Profiles["filed"] = Profile{Provider: "anthropic", Model: "claude-sonnet-4-5", KeyFile: keyPath}

	p, err := cfg.Resolve("filed")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.APIKey != "sk-from-file" {
		t.Errorf("APIKey = %q, want trimmed file contents", p.APIKey)
	}
}

func TestResolveMissingProfile(t *testing.T) {
	cfg := testConfig()
	if _, err := cfg.Resolve("nope"); err == nil {
		t.Fatal("expected error for unknown profile")
	} else if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestResolveMissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := testConfig()
	prof := cfg.Profiles["default"]
	prof.APIKey = ""
	cfg.Profiles["default"] = prof

	if _, err := cfg.Resolve("default"); err == nil {
		t.Fatal("expected error when no credential source is available")
	}
}

func TestResolveCompatNeedsNoKey(t *testing.T) {
	cfg := testConfig()

	p, err := cfg.Resolve("local")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.APIKey != "" {
		t.Errorf("APIKey = %q, want empty for local server", p.APIKey)
	}
	if p.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("BaseURL = %q", p.BaseURL)
	}
}

func TestResolveDoesNotMutateConfig(t *testing.T) {
	cfg := testConfig()

	p, err := cfg.Resolve("default")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	p.Model = "changed"
	if cfg.Profiles["default"].Model != "claude-sonnet-4-5" {
		t.Error("Resolve leaked a mutable reference to the stored profile")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_EXPAND_VAR", "value")
	cases := map[string]string{
		"${TEST_EXPAND_VAR}": "value",
		"$TEST_EXPAND_VAR":   "value",
		"literal":            "literal",
		"":                   "",
	}
	for in, want := range cases {
		if got := expandEnv(in); got != want {
			t.Errorf("expandEnv(%q) = %q, want %q", in, got, want)
		}
	}
}
