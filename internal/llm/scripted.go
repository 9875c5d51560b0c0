package llm

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nugget/ponder/internal/memory"
)

// Rule maps a pattern on the latest user or tool message to a reply.
// Reply may reference capture groups as $1 or ${name}.
type Rule struct {
	Pattern *regexp.Regexp
	Reply   string
}

// Scripted is an offline provider that answers from a fixed rule list.
// It stands in for a model in tests and demos.
type Scripted struct {
	rules   []Rule
	deflt   string
	mu      sync.Mutex
	calls   int
	history [][]memory.Message
}

// NewScripted returns a provider that tries rules in order and falls back
// to defaultReply.
func NewScripted(defaultReply string, rules ...Rule) *Scripted {
	return &Scripted{rules: rules, deflt: defaultReply}
}

type scriptFile struct {
	Default string `yaml:"default"`
	Rules   []struct {
		Match string `yaml:"match"`
		Reply string `yaml:"reply"`
	} `yaml:"rules"`
}

// LoadScript reads a YAML rule file:
//
//	default: "I can search, add numbers or stop."
//	rules:
//	  - match: '(?i)add (\d+) and (\d+)'
//	    reply: "THINK: arithmetic\nACT: add $1 $2"
func LoadScript(path string) (*Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

// ParseScript parses the YAML rule format accepted by LoadScript.
func ParseScript(data []byte) (*Scripted, error) {
	var f scriptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i, r := range f.Rules {
		re, err := regexp.Compile(r.Match)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		rules = append(rules, Rule{Pattern: re, Reply: r.Reply})
	}
	return NewScripted(f.Default, rules...), nil
}

// DefaultScript demonstrates the builtin tools without a model.
func DefaultScript() *Scripted {
	return NewScripted(
		"I can search the knowledge base, add numbers or terminate. Ask me to do one of those.",
		Rule{regexp.MustCompile(`^Tool result: (?s)(.*)$`), "Here is what I found:\n$1"},
		Rule{regexp.MustCompile(`(?i)\bsearch (?:for )?(\S+)`), "THINK: The user wants a knowledge base lookup.\nACT: search $1"},
		Rule{regexp.MustCompile(`(\d+)\s*(?:\+|and|plus)\s*(\d+)`), "THINK: This needs arithmetic, so I will use the add tool.\nACT: add $1 $2"},
		Rule{regexp.MustCompile(`(?i)\b(?:stop|quit|terminate)\b`), "THINK: The user is finished.\nACT: terminate user request"},
		Rule{regexp.MustCompile(`(?i)\b(?:hello|hi|who are you)\b`), "Hello! I am a think-act assistant."},
	)
}

// Chat answers from the latest user or tool message.
func (s *Scripted) Chat(_ context.Context, messages []memory.Message, _ bool) (string, error) {
	s.mu.Lock()
	s.calls++
	s.history = append(s.history, append([]memory.Message(nil), messages...))
	s.mu.Unlock()

	input := lastInput(messages)
	for _, r := range s.rules {
		m := r.Pattern.FindStringSubmatchIndex(input)
		if m == nil {
			continue
		}
		return string(r.Pattern.ExpandString(nil, r.Reply, input, m)), nil
	}
	return s.deflt, nil
}

// Calls returns how many times Chat has been called.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Requests returns a copy of every message list Chat received.
func (s *Scripted) Requests() [][]memory.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]memory.Message(nil), s.history...)
}

func lastInput(messages []memory.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		switch messages[i].Role {
		case memory.RoleUser, memory.RoleTool:
			return messages[i].Content
		}
	}
	return ""
}
