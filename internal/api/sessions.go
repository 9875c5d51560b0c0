package api

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nugget/ponder/internal/agent"
)

// ErrSessionLimit is returned when a new conversation would exceed the
// configured number of live sessions.
var ErrSessionLimit = errors.New("too many open conversations")

// AgentFactory builds the agent for a new conversation.
type AgentFactory func(conversationID string) (agent.Agent, error)

// Sessions keeps one agent per conversation ID. Each agent serialises its
// own runs; Sessions only guards the map.
type Sessions struct {
	mu     sync.Mutex
	agents map[string]agent.Agent
	build  AgentFactory
	limit  int
}

// NewSessions creates a session table. A limit of zero means unbounded.
func NewSessions(build AgentFactory, limit int) *Sessions {
	return &Sessions{
		agents: make(map[string]agent.Agent),
		build:  build,
		limit:  limit,
	}
}

// Get returns the agent for id, creating it on first use. An empty id
// starts a new conversation under a fresh UUIDv7, which is returned.
func (s *Sessions) Get(id string) (agent.Agent, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		u, err := uuid.NewV7()
		if err != nil {
			return nil, "", fmt.Errorf("conversation id: %w", err)
		}
		id = u.String()
	}
	if a, ok := s.agents[id]; ok {
		return a, id, nil
	}
	if s.limit > 0 && len(s.agents) >= s.limit {
		return nil, id, ErrSessionLimit
	}

	a, err := s.build(id)
	if err != nil {
		return nil, id, fmt.Errorf("create agent: %w", err)
	}
	s.agents[id] = a
	return a, id, nil
}

// Lookup returns the agent for an existing conversation.
func (s *Sessions) Lookup(id string) (agent.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	return a, ok
}

// Drop forgets a conversation. It reports whether it existed.
func (s *Sessions) Drop(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.agents[id]
	delete(s.agents, id)
	return ok
}

// IDs returns the live conversation IDs, sorted.
func (s *Sessions) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live conversations.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents)
}
