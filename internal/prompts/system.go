package prompts

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"text/template"

	"github.com/nugget/ponder/internal/tools"
)

// SystemTemplateName is the Manager key of the agent's system prompt.
const SystemTemplateName = "system"

// DefaultSystemTemplate teaches the model the THINK:/ACT: convention and
// lists the registered tools.
const DefaultSystemTemplate = `You are {{.Name}}, a helpful assistant that can use tools.

When you need a tool, reply in exactly this form:

THINK: <one or two sentences of reasoning>
ACT: <tool_name> <arg1> <arg2> ...

Arguments are separated by spaces. Use one tool per reply, then wait for
the "Tool result:" message before continuing.

When you can answer without a tool, reply with the answer only. Do not
include an ACT: line in a final answer.
{{if .Tools}}
Available tools:
{{range .Tools}}- {{.Name}}{{if .Description}}: {{.Description}}{{end}}
{{end}}{{else}}
No tools are available.
{{end}}`

// SystemData is the data passed to the system template.
type SystemData struct {
	Name  string
	Tools []tools.Info
}

// Manager is a registry of named prompt templates.
type Manager struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	sources   map[string]string
}

// NewManager returns a Manager holding DefaultSystemTemplate under
// SystemTemplateName.
func NewManager() *Manager {
	m := &Manager{
		templates: make(map[string]*template.Template),
		sources:   make(map[string]string),
	}
	if err := m.Add(SystemTemplateName, DefaultSystemTemplate); err != nil {
		panic(err) // the built-in template is a constant
	}
	return m
}

// Add parses text and stores it under name, replacing any previous
// template of that name.
func (m *Manager) Add(name, text string) error {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return fmt.Errorf("parse prompt %q: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[name] = tmpl
	m.sources[name] = text
	return nil
}

// Get returns the source text of the named template, or "" if there is
// none.
func (m *Manager) Get(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sources[name]
}

// Names returns the sorted template names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.sources))
	for n := range m.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template with data.
func (m *Manager) Render(name string, data any) (string, error) {
	m.mu.RLock()
	tmpl, ok := m.templates[name]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("prompt %q not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return buf.String(), nil
}

// SystemPrompt renders the system template for an agent called name with
// the tools in r.
func (m *Manager) SystemPrompt(name string, r *tools.Registry) (string, error) {
	data := SystemData{Name: name}
	if r != nil {
		data.Tools = r.List()
	}
	return m.Render(SystemTemplateName, data)
}
