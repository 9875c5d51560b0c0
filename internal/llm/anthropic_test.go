package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nugget/ponder/internal/memory"
)

func TestConvertToAnthropic(t *testing.T) {
	msgs, system := convertToAnthropic(testConversation())

	if system != "You are terse." {
		t.Errorf("system = %q", system)
	}
	want := []anthropicMessage{
		{Role: "user", Content: "add 1 and 2"},
		{Role: "assistant", Content: "Action: add 1 2"},
		{Role: "user", Content: "Tool result: 3"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(msgs), len(want), msgs)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("msgs[%d] = %+v, want %+v", i, msgs[i], want[i])
		}
	}
}

func TestConvertToAnthropic_MergesSameRole(t *testing.T) {
	msgs, _ := convertToAnthropic([]memory.Message{
		{Role: memory.RoleAssistant, Content: "Thought: need sum"},
		{Role: memory.RoleAssistant, Content: "Action: add 1 2"},
	})
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	if msgs[0].Content != "Thought: need sum\n\nAction: add 1 2" {
		t.Errorf("Content = %q", msgs[0].Content)
	}
}

func TestAnthropicClient_Chat(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprintln(w, `{"model":"claude","content":[{"type":"text","text":"Hello"},{"type":"text","text":" there"}],"usage":{"input_tokens":5,"output_tokens":2}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "sk-test", "claude", 0, nil, discardLogger())
	reply, err := c.Chat(context.Background(), testConversation(), false)
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if reply != "Hello there" {
		t.Errorf("reply = %q", reply)
	}
	if got.MaxTokens != anthropicMaxTokens {
		t.Errorf("MaxTokens = %d", got.MaxTokens)
	}
}

func TestAnthropicClient_ChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"model\":\"claude\",\"usage\":{\"input_tokens\":9}}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"ACT: \"}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"add 1 2\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "k", "claude", 0, nil, discardLogger())
	reply, err := c.Chat(context.Background(), testConversation(), true)
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if reply != "ACT: add 1 2" {
		t.Errorf("reply = %q", reply)
	}
}

func TestAnthropicClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"authentication_error"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "bad", "claude", 0, nil, discardLogger())
	_, err := c.Chat(context.Background(), testConversation(), false)
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Provider != "anthropic" {
		t.Fatalf("error = %v, want anthropic *ProviderError", err)
	}
}
