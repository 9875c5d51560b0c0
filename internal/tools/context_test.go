package tools

import (
	"context"
	"testing"
)

func TestConversationIDFromContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"default when unset", context.Background(), "default"},
		{"round trip", WithConversationID(context.Background(), "conv-123"), "conv-123"},
		{"empty string returns default", WithConversationID(context.Background(), ""), "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConversationIDFromContext(tt.ctx); got != tt.want {
				t.Errorf("ConversationIDFromContext() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunIDFromContext(t *testing.T) {
	if got := RunIDFromContext(context.Background()); got != "" {
		t.Errorf("unset = %q", got)
	}

	ctx := WithConversationID(context.Background(), "conv-1")
	ctx = WithRunID(ctx, "run-1")
	if got := RunIDFromContext(ctx); got != "run-1" {
		t.Errorf("RunIDFromContext() = %q", got)
	}
	if got := ConversationIDFromContext(ctx); got != "conv-1" {
		t.Errorf("keys interfere: conversation = %q", got)
	}
}
