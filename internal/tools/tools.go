// Package tools defines the tools available to the agent and the
// registry that dispatches to them.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Token is one positional tool argument: either text or an integer.
type Token struct {
	text  string
	num   int
	isInt bool
}

// Text returns a text token.
func Text(s string) Token { return Token{text: s} }

// Int returns an integer token.
func Int(n int) Token { return Token{num: n, isInt: true, text: strconv.Itoa(n)} }

// ParseToken coerces an all-digit word to an integer token; anything else,
// including digit strings too large for int, stays text.
func ParseToken(s string) Token {
	if s == "" {
		return Text(s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return Text(s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Text(s)
	}
	return Token{num: n, isInt: true, text: s}
}

// ParseArgs applies ParseToken to each word.
func ParseArgs(words []string) []Token {
	args := make([]Token, len(words))
	for i, w := range words {
		args[i] = ParseToken(w)
	}
	return args
}

// IsInt reports whether the token holds an integer.
func (t Token) IsInt() bool { return t.isInt }

// Int returns the integer value and whether the token is an integer.
func (t Token) Int() (int, bool) { return t.num, t.isInt }

// String returns the token's textual form.
func (t Token) String() string { return t.text }

// Tool is a named capability the agent can invoke with positional
// arguments.
type Tool interface {
	Invoke(ctx context.Context, args []Token) (string, error)
}

// Describer is implemented by tools that can describe themselves for the
// system prompt.
type Describer interface {
	Description() string
}

// Func adapts an ordinary function to the Tool interface.
type Func func(ctx context.Context, args []Token) (string, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, args []Token) (string, error) {
	return f(ctx, args)
}

type describedFunc struct {
	Func
	description string
}

func (d describedFunc) Description() string { return d.description }

// Info describes a registered tool.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Registry maps tool names to tools. It is safe for concurrent use; the
// tools themselves are responsible for their own state.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t under name, replacing any existing entry.
func (r *Registry) Register(name string, t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = t
}

// RegisterFunc registers fn with a description.
func (r *Registry) RegisterFunc(name, description string, fn Func) {
	r.Register(name, describedFunc{Func: fn, description: description})
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Invoke runs the named tool synchronously. It returns a *NotFoundError
// when no tool is registered under name and wraps any failure of the tool,
// panics included, in an *ExecutionError.
func (r *Registry) Invoke(ctx context.Context, name string, args []Token) (result string, err error) {
	t, ok := r.Lookup(name)
	if !ok {
		return "", &NotFoundError{Name: name}
	}

	defer func() {
		if p := recover(); p != nil {
			result = ""
			err = &ExecutionError{Name: name, Cause: fmt.Errorf("panic: %v", p)}
		}
	}()

	result, err = t.Invoke(ctx, args)
	if err != nil {
		return "", &ExecutionError{Name: name, Cause: err}
	}
	return result, nil
}

// List returns every registered tool sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.tools))
	for name, t := range r.tools {
		info := Info{Name: name}
		if d, ok := t.(Describer); ok {
			info.Description = d.Description()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	infos := r.List()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// JoinArgs renders args back to a space-separated string.
func JoinArgs(args []Token) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return strings.Join(parts, " ")
}
