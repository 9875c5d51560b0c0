package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/ponder/internal/config"
)

func TestNew(t *testing.T) {
	script := filepath.Join(t.TempDir(), "s.yaml")
	os.WriteFile(script, []byte("default: hi\n"), 0o644)

	tests := []struct {
		name    string
		cfg     config.ProviderConfig
		want    string // concrete type
		wantErr bool
	}{
		{"openai", config.ProviderConfig{Kind: config.ProviderOpenAI, Model: "m", APIKey: "k"}, "*llm.OpenAIClient", false},
		{"ollama", config.ProviderConfig{Kind: config.ProviderOllama, Model: "m"}, "*llm.OllamaClient", false},
		{"anthropic", config.ProviderConfig{Kind: config.ProviderAnthropic, Model: "m", APIKey: "k"}, "*llm.AnthropicClient", false},
		{"scripted default", config.ProviderConfig{Kind: config.ProviderScripted}, "*llm.Scripted", false},
		{"scripted file", config.ProviderConfig{Kind: config.ProviderScripted, Script: script}, "*llm.Scripted", false},
		{"scripted missing", config.ProviderConfig{Kind: config.ProviderScripted, Script: "/nonexistent.yaml"}, "", true},
		{"timeout wrapper", config.ProviderConfig{Kind: config.ProviderScripted, Timeout: time.Second}, "*llm.timeoutClient", false},
		{"unknown", config.ProviderConfig{Kind: "bard"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg, discardLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := typeName(c); got != tt.want {
				t.Errorf("New() = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(c Client) string {
	switch c.(type) {
	case *OpenAIClient:
		return "*llm.OpenAIClient"
	case *OllamaClient:
		return "*llm.OllamaClient"
	case *AnthropicClient:
		return "*llm.AnthropicClient"
	case *Scripted:
		return "*llm.Scripted"
	case *timeoutClient:
		return "*llm.timeoutClient"
	}
	return "unknown"
}

func TestWithTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := WithTimeout(NewOllamaClient(srv.URL, "m", discardLogger()), 50*time.Millisecond)
	_, err := c.Chat(context.Background(), testConversation(), false)

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}
