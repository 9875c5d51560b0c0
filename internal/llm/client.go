// Package llm provides the completion providers the agent talks to.
//
// Every provider satisfies [Client]: ordered messages in, the full
// assistant text out. Streaming is a transport detail; chunks are
// concatenated before Chat returns. Any failure, whether transport, auth,
// timeout or decode, comes back as a *ProviderError.
package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/ponder/internal/memory"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Client produces the next assistant turn from a conversation.
type Client interface {
	// Chat returns the assistant's reply to messages. It must not modify
	// messages. When stream is true the provider may deliver the reply
	// incrementally, but Chat still returns the complete text.
	Chat(ctx context.Context, messages []memory.Message, stream bool) (string, error)
}

// Pinger is implemented by providers that can check reachability without
// spending a completion.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderError is the single error kind returned by a Client.
type ProviderError struct {
	Provider string
	Cause    error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying failure.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

func providerError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Cause: err}
}

// wireMessage is the role/content pair shared by the OpenAI-style chat
// protocols.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wireRole maps a conversation role onto the chat protocol. Tool results
// carry no tool-call ID in this convention, so they travel as user turns.
func wireRole(r memory.Role) string {
	switch r {
	case memory.RoleSystem:
		return "system"
	case memory.RoleAssistant:
		return "assistant"
	default:
		return "user"
	}
}

func toWire(messages []memory.Message) []wireMessage {
	out := make([]wireMessage, len(messages))
	for i, m := range messages {
		out[i] = wireMessage{Role: wireRole(m.Role), Content: m.Content}
	}
	return out
}
