package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	// Create a temp config file
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	path := writeConfig(t, "provider:\n  kind: openai\n  model: gpt-4o-mini\n  api_key: ${PONDER_TEST_KEY}\nenv_files: []\n")
	t.Setenv("PONDER_TEST_KEY", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Provider.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.Provider.APIKey, "secret123")
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	os.WriteFile(envPath, []byte("PONDER_TEST_MODEL=from-dotenv\n"), 0600)
	t.Setenv("PONDER_TEST_MODEL", "")
	os.Unsetenv("PONDER_TEST_MODEL")

	path := writeConfig(t, "env_files: ["+envPath+", "+filepath.Join(dir, "missing.env")+"]\nprovider:\n  model: ${PONDER_TEST_MODEL}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Provider.Model != "from-dotenv" {
		t.Errorf("model = %q, want %q", cfg.Provider.Model, "from-dotenv")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "env_files: []\nagent:\n  name: Test\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Agent.Name != "Test" {
		t.Errorf("name = %q", cfg.Agent.Name)
	}
	if cfg.Agent.Mode != ModeReact || cfg.Agent.OnLimit != OnLimitToolResult || cfg.Agent.MaxIterations != 5 {
		t.Errorf("agent defaults = %+v", cfg.Agent)
	}
	if cfg.Provider.Kind != ProviderOllama || cfg.Provider.Model != DefaultOllamaModel {
		t.Errorf("provider defaults = %+v", cfg.Provider)
	}
	if cfg.Provider.Timeout != 5*time.Minute {
		t.Errorf("timeout = %v", cfg.Provider.Timeout)
	}
	if cfg.Listen.Port != 8080 {
		t.Errorf("port = %d", cfg.Listen.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLoad_Durations(t *testing.T) {
	path := writeConfig(t, "env_files: []\nprovider:\n  kind: scripted\n  timeout: 90s\ntools:\n  fetch:\n    enabled: true\n    timeout: 5s\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Provider.Timeout != 90*time.Second {
		t.Errorf("provider.timeout = %v", cfg.Provider.Timeout)
	}
	if !cfg.Tools.Fetch.Enabled || cfg.Tools.Fetch.Timeout != 5*time.Second {
		t.Errorf("fetch = %+v", cfg.Tools.Fetch)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "agent: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load should fail on malformed YAML")
	}
}

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Agent.Mode = "swarm" }, "agent.mode"},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }, "max_iterations"},
		{"bad on_limit", func(c *Config) { c.Agent.OnLimit = "panic" }, "on_limit"},
		{"bad kind", func(c *Config) { c.Provider.Kind = "bard" }, "provider.kind"},
		{"openai no key", func(c *Config) {
			c.Provider = ProviderConfig{Kind: ProviderOpenAI, Model: "gpt-4o"}
		}, "api_key"},
		{"openai no model", func(c *Config) {
			c.Provider = ProviderConfig{Kind: ProviderOpenAI, APIKey: "k"}
		}, "provider.model"},
		{"port", func(c *Config) { c.Listen.Port = 70000 }, "listen.port"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"scripted ok", func(c *Config) { c.Provider = ProviderConfig{Kind: ProviderScripted} }, ""},
		{"openai local server", func(c *Config) {
			c.Provider = ProviderConfig{Kind: ProviderOpenAI, Model: "m", BaseURL: "http://localhost:8080/v1"}
		}, ""},
		{"searxng no url", func(c *Config) { c.Tools.WebSearch.Provider = "searxng" }, "web_search.url"},
		{"brave no key", func(c *Config) { c.Tools.WebSearch.Provider = "brave" }, "web_search.api_key"},
		{"bad search provider", func(c *Config) { c.Tools.WebSearch.Provider = "altavista" }, "web_search.provider"},
		{"searxng ok", func(c *Config) {
			c.Tools.WebSearch = WebSearchConfig{Provider: "searxng", URL: "http://localhost:8888"}
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_BraveKeyFromEnv(t *testing.T) {
	t.Setenv("BRAVE_API_KEY", "brave-token")
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "tools:\n  web_search:\n    provider: Brave\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	ws := cfg.Tools.WebSearch
	if ws.Provider != "brave" || ws.APIKey != "brave-token" || ws.Count != 5 {
		t.Errorf("web_search = %+v", ws)
	}
}

func TestFindConfig_NoneFound(t *testing.T) {
	dir := t.TempDir()
	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)
	t.Setenv("HOME", dir)

	_, err := FindConfig("")
	if !errors.Is(err, ErrNoConfig) {
		t.Fatalf("FindConfig error = %v, want ErrNoConfig", err)
	}
}
