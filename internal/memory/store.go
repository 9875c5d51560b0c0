// Package memory holds the conversation an agent sends to its model on
// every turn.
package memory

import (
	"sync"
	"time"
)

// Role tags the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single conversation entry. Messages are never modified
// after they are appended.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an ordered, append-only message log. It may be reset
// wholesale but is never spliced, with one exception: the leading system
// message can be replaced via SetSystem.
//
// A Conversation is owned by one agent. The mutex only protects readers
// such as the HTTP history endpoint from observing a torn append.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
	now      func() time.Time
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{now: time.Now}
}

// Append adds a message to the end of the log.
func (c *Conversation) Append(role Role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: c.timestamp(),
	})
}

// SetSystem installs content as the conversation's system message. An
// existing leading system message is replaced rather than duplicated.
func (c *Conversation) SetSystem(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := Message{Role: RoleSystem, Content: content, Timestamp: c.timestamp()}
	if len(c.messages) > 0 && c.messages[0].Role == RoleSystem {
		c.messages[0] = msg
		return
	}
	c.messages = append([]Message{msg}, c.messages...)
}

func (c *Conversation) timestamp() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

// Snapshot returns a copy of every message in append order.
func (c *Conversation) Snapshot() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := make([]Message, len(c.messages))
	copy(msgs, c.messages)
	return msgs
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Reset empties the conversation, system message included.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// TokenEstimate returns a rough token count (4 characters per token).
func (c *Conversation) TokenEstimate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, m := range c.messages {
		total += len(m.Content) / 4
	}
	return total
}
