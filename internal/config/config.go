// Package config handles Ponder configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./config.yaml, ~/.config/ponder/config.yaml, /etc/ponder/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ponder", "config.yaml"))
	}

	paths = append(paths, "/etc/ponder/config.yaml")
	return paths
}

// ErrNoConfig is returned by FindConfig when no search path exists.
var ErrNoConfig = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Agent modes.
const (
	ModeReact = "react"
	ModeBase  = "base"
)

// Iteration-cap policies.
const (
	OnLimitToolResult = "tool_result"
	OnLimitMessage    = "message"
)

// Provider kinds.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderScripted  = "scripted"
)

// Config holds all Ponder configuration.
type Config struct {
	Agent     AgentConfig    `yaml:"agent"`
	Provider  ProviderConfig `yaml:"provider"`
	Tools     ToolsConfig    `yaml:"tools"`
	Listen    ListenConfig   `yaml:"listen"`
	DataDir   string         `yaml:"data_dir"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"` // text or json
	EnvFiles  []string       `yaml:"env_files"`
}

// AgentConfig defines the agent's identity and loop bounds.
type AgentConfig struct {
	Name string `yaml:"name"`
	// Mode is "react" for the think-act loop or "base" for single-shot
	// chat with the tool: shorthand.
	Mode string `yaml:"mode"`
	// SystemPrompt overrides the built-in prompt template. It is parsed
	// with text/template and sees .Name and .Tools.
	SystemPrompt  string `yaml:"system_prompt"`
	MaxIterations int    `yaml:"max_iterations"`
	// OnLimit selects what a run returns when it reaches MaxIterations
	// on a tool call: "tool_result" or "message".
	OnLimit string `yaml:"on_limit"`
}

// ProviderConfig selects and configures the completion provider.
type ProviderConfig struct {
	Kind    string `yaml:"kind"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Stream  bool   `yaml:"stream"`
	// Timeout bounds a single provider call. Zero means no limit.
	Timeout     time.Duration `yaml:"timeout"`
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	// Script is a rule file for the scripted provider. Empty uses the
	// built-in demo script.
	Script string `yaml:"script"`
}

// ToolsConfig configures the builtin tools.
type ToolsConfig struct {
	// Corpus is searched by the search tool.
	Corpus    []string        `yaml:"corpus"`
	Fetch     FetchConfig     `yaml:"fetch"`
	WebSearch WebSearchConfig `yaml:"web_search"`
}

// WebSearchConfig configures the web_search tool. An empty provider
// leaves the tool out.
type WebSearchConfig struct {
	Provider string `yaml:"provider"` // "searxng" or "brave"
	URL      string `yaml:"url"`      // SearXNG instance
	APIKey   string `yaml:"api_key"`  // Brave token; defaults to $BRAVE_API_KEY
	Count    int    `yaml:"count"`
}

// FetchConfig configures the web_fetch tool.
type FetchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	MaxChars int           `yaml:"max_chars"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address     string   `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Load reads configuration from a YAML file. Dotenv files named by
// env_files (default ".env") are loaded first so ${VAR} references in the
// file can use them. Variables already set in the environment win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pre struct {
		EnvFiles []string `yaml:"env_files"`
	}
	if err := yaml.Unmarshal(data, &pre); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := LoadEnvFiles(pre.EnvFiles); err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := base()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// LoadEnvFiles loads dotenv files into the process environment. A nil
// list means ".env". Missing files are skipped.
func LoadEnvFiles(files []string) error {
	if files == nil {
		files = []string{".env"}
	}

	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// DefaultOllamaModel is the model used when an ollama provider names none.
const DefaultOllamaModel = "qwen3:4b"

// Default returns a default configuration.
func Default() *Config {
	cfg := base()
	cfg.applyDefaults()
	return cfg
}

// base holds the defaults a file can override with an explicit zero.
func base() *Config {
	return &Config{
		Agent:    AgentConfig{MaxIterations: 5},
		Provider: ProviderConfig{Timeout: 5 * time.Minute},
		Tools: ToolsConfig{
			Fetch: FetchConfig{Timeout: 30 * time.Second},
		},
		Listen:   ListenConfig{Port: 8080},
		LogLevel: "info",
	}
}

// applyDefaults fills values the file left empty, including credentials
// that conventionally come from the environment.
func (c *Config) applyDefaults() {
	if c.Agent.Name == "" {
		c.Agent.Name = "Ponder"
	}
	if c.Agent.Mode == "" {
		c.Agent.Mode = ModeReact
	}
	if c.Agent.OnLimit == "" {
		c.Agent.OnLimit = OnLimitToolResult
	}
	c.Agent.Mode = strings.ToLower(c.Agent.Mode)
	c.Provider.Kind = strings.ToLower(c.Provider.Kind)
	if c.Provider.Kind == "" {
		c.Provider.Kind = ProviderOllama
	}

	switch c.Provider.Kind {
	case ProviderOllama:
		if c.Provider.Model == "" {
			c.Provider.Model = DefaultOllamaModel
		}
	case ProviderOpenAI:
		if c.Provider.APIKey == "" {
			c.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if c.Provider.BaseURL == "" {
			c.Provider.BaseURL = os.Getenv("OPENAI_BASE_URL")
		}
		if c.Provider.Model == "" {
			c.Provider.Model = os.Getenv("OPENAI_MODEL")
		}
	case ProviderAnthropic:
		if c.Provider.APIKey == "" {
			c.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}

	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Tools.Fetch.MaxChars <= 0 {
		c.Tools.Fetch.MaxChars = 8000
	}
	c.Tools.WebSearch.Provider = strings.ToLower(c.Tools.WebSearch.Provider)
	if c.Tools.WebSearch.Provider == "brave" && c.Tools.WebSearch.APIKey == "" {
		c.Tools.WebSearch.APIKey = os.Getenv("BRAVE_API_KEY")
	}
	if c.Tools.WebSearch.Count <= 0 {
		c.Tools.WebSearch.Count = 5
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch c.Agent.Mode {
	case ModeReact, ModeBase:
	default:
		return fmt.Errorf("agent.mode %q is invalid (valid: react, base)", c.Agent.Mode)
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1, got %d", c.Agent.MaxIterations)
	}
	switch c.Agent.OnLimit {
	case OnLimitToolResult, OnLimitMessage:
	default:
		return fmt.Errorf("agent.on_limit %q is invalid (valid: tool_result, message)", c.Agent.OnLimit)
	}

	switch c.Provider.Kind {
	case ProviderOllama:
		if c.Provider.Model == "" {
			return fmt.Errorf("provider.model is required for ollama")
		}
	case ProviderOpenAI, ProviderAnthropic:
		if c.Provider.Model == "" {
			return fmt.Errorf("provider.model is required for %s", c.Provider.Kind)
		}
		if c.Provider.APIKey == "" && c.Provider.BaseURL == "" {
			return fmt.Errorf("provider.api_key is required for %s", c.Provider.Kind)
		}
	case ProviderScripted:
	default:
		return fmt.Errorf("provider.kind %q is invalid (valid: openai, ollama, anthropic, scripted)", c.Provider.Kind)
	}
	if c.Provider.Timeout < 0 {
		return fmt.Errorf("provider.timeout must not be negative")
	}

	switch ws := c.Tools.WebSearch; ws.Provider {
	case "":
	case "searxng":
		if ws.URL == "" {
			return fmt.Errorf("tools.web_search.url is required for searxng")
		}
	case "brave":
		if ws.APIKey == "" {
			return fmt.Errorf("tools.web_search.api_key is required for brave")
		}
	default:
		return fmt.Errorf("tools.web_search.provider %q is invalid (valid: searxng, brave)", ws.Provider)
	}

	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q is invalid (valid: text, json)", c.LogFormat)
	}
	return nil
}

// UsageDBPath returns the path of the usage audit database.
func (c *Config) UsageDBPath() string {
	return filepath.Join(c.DataDir, "usage.db")
}
