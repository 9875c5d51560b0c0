// Package agent implements the think-act control loop and the simpler
// base agent. Both own one conversation, call a completion provider, and
// dispatch tools from a shared registry.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/ponder/internal/events"
	"github.com/nugget/ponder/internal/llm"
	"github.com/nugget/ponder/internal/memory"
	"github.com/nugget/ponder/internal/prompts"
	"github.com/nugget/ponder/internal/thinkact"
	"github.com/nugget/ponder/internal/tools"
)

// DefaultMaxIterations bounds a run when the config leaves it unset.
const DefaultMaxIterations = 5

// Sentinel errors carried in Response.Err.
var (
	ErrIterationLimit = errors.New("iteration limit reached")
	ErrCancelled      = errors.New("run cancelled")
)

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeFinal      Outcome = "final"
	OutcomeToolResult Outcome = "tool_result"
	OutcomeLimit      Outcome = "limit"
	OutcomeError      Outcome = "error"
	OutcomeCancelled  Outcome = "cancelled"
)

// OnLimit policies.
const (
	// LimitToolResult returns the last tool result when the cap is hit on
	// a tool-issuing iteration.
	LimitToolResult = "tool_result"
	// LimitMessage returns IterationLimitMessage instead.
	LimitMessage = "message"
)

// Config is fixed for the life of an agent.
type Config struct {
	Name string
	// SystemPrompt replaces the default system template when set.
	SystemPrompt  string
	MaxIterations int
	OnLimit       string
	Stream        bool
	// Model is informational; it tags events and usage records.
	Model string
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", c.MaxIterations)
	}
	switch c.OnLimit {
	case LimitToolResult, LimitMessage:
	default:
		return fmt.Errorf("on_limit must be %q or %q, got %q", LimitToolResult, LimitMessage, c.OnLimit)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "Ponder"
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.OnLimit == "" {
		c.OnLimit = LimitToolResult
	}
	return c
}

// Response is the result of one run. Run never returns an error; any
// failure is rendered into Content and classified by Outcome and Err.
type Response struct {
	Content    string        `json:"content"`
	Outcome    Outcome       `json:"outcome"`
	Iterations int           `json:"iterations"`
	RunID      string        `json:"run_id"`
	Elapsed    time.Duration `json:"elapsed"`
	Err        error         `json:"-"`
}

// Agent is the surface shared by Loop and Base.
type Agent interface {
	Run(ctx context.Context, input string) *Response
	Reset() error
	History() []memory.Message
	ConversationID() string
}

// Option configures an agent.
type Option func(*core)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *core) { c.logger = logger }
}

// WithEventBus publishes run events to bus.
func WithEventBus(bus *events.Bus) Option {
	return func(c *core) { c.bus = bus }
}

// WithPrompts renders the system prompt from m instead of a private
// manager holding the default template.
func WithPrompts(m *prompts.Manager) Option {
	return func(c *core) { c.prompts = m }
}

// WithConversationID sets the ID reported in events. The default is a
// fresh UUIDv7.
func WithConversationID(id string) Option {
	return func(c *core) { c.convID = id }
}

// core holds what Loop and Base have in common.
type core struct {
	cfg      Config
	client   llm.Client
	registry *tools.Registry
	logger   *slog.Logger
	bus      *events.Bus
	prompts  *prompts.Manager
	convID   string

	mu   sync.Mutex // serialises Run and Reset
	conv *memory.Conversation
}

func newCore(cfg Config, client llm.Client, registry *tools.Registry, opts []Option) (*core, error) {
	if client == nil {
		return nil, errors.New("agent: nil completion client")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}

	c := &core{
		cfg:      cfg,
		client:   client,
		registry: registry,
		conv:     memory.NewConversation(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.convID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("agent: conversation id: %w", err)
		}
		c.convID = id.String()
	}
	if cfg.SystemPrompt != "" {
		// Own the manager so an override never leaks into a shared one.
		m := prompts.NewManager()
		if err := m.Add(prompts.SystemTemplateName, cfg.SystemPrompt); err != nil {
			return nil, fmt.Errorf("agent: %w", err)
		}
		c.prompts = m
	} else if c.prompts == nil {
		c.prompts = prompts.NewManager()
	}
	c.logger = c.logger.With("conversation_id", c.convID)

	if err := c.installSystem(); err != nil {
		return nil, err
	}
	return c, nil
}

// installSystem renders the system prompt against the current tool set.
func (c *core) installSystem() error {
	sys, err := c.prompts.SystemPrompt(c.cfg.Name, c.registry)
	if err != nil {
		return fmt.Errorf("agent: system prompt: %w", err)
	}
	c.conv.SetSystem(sys)
	return nil
}

// ConversationID returns the ID this agent reports in events.
func (c *core) ConversationID() string { return c.convID }

// History returns a copy of the conversation.
func (c *core) History() []memory.Message { return c.conv.Snapshot() }

// Reset clears the conversation and reinstalls the system prompt.
func (c *core) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conv.Reset()
	return c.installSystem()
}

// RefreshTools re-renders the system prompt after the registry changed.
// Other messages are untouched.
func (c *core) RefreshTools() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.installSystem()
}

// run carries per-run bookkeeping.
type run struct {
	id    string
	start time.Time
	log   *slog.Logger
}

func (c *core) begin(mode, input string) *run {
	id, err := uuid.NewV7()
	runID := ""
	if err == nil {
		runID = id.String()
	}
	r := &run{id: runID, start: time.Now(), log: c.logger.With("run_id", runID)}
	r.log.Info("run started", "mode", mode, "input_len", len(input))
	c.emit(r, events.KindRunStart, map[string]any{"mode": mode, "input_len": len(input)})
	return r
}

func (c *core) finish(r *run, resp *Response) *Response {
	resp.RunID = r.id
	resp.Elapsed = time.Since(r.start)

	attrs := []any{
		"outcome", resp.Outcome,
		"iterations", resp.Iterations,
		"elapsed", resp.Elapsed.Round(time.Millisecond),
	}
	if resp.Err != nil {
		attrs = append(attrs, "error", resp.Err)
	}
	r.log.Info("run complete", attrs...)

	c.emit(r, events.KindRunComplete, map[string]any{
		"outcome":    string(resp.Outcome),
		"iterations": resp.Iterations,
		"elapsed_ms": resp.Elapsed.Milliseconds(),
	})
	return resp
}

func (c *core) emit(r *run, kind string, data map[string]any) {
	if c.bus == nil {
		return
	}
	data["run_id"] = r.id
	data["conversation_id"] = c.convID
	c.bus.Emit(events.SourceAgent, kind, data)
}

type chatResult struct {
	reply string
	err   error
}

// chat sends the current conversation to the provider on a worker
// goroutine and waits for it to finish. The wait ignores ctx: a call in
// flight always completes before the run moves on, so no append can race
// a late reply. Cancellation reaches the provider through ctx itself.
func (c *core) chat(ctx context.Context, r *run, iter int) (string, error) {
	msgs := c.conv.Snapshot()
	charsIn := 0
	for _, m := range msgs {
		charsIn += len(m.Content)
	}

	estTokens := c.conv.TokenEstimate()
	r.log.Debug("calling provider", "iter", iter, "messages", len(msgs), "est_tokens", estTokens)
	c.emit(r, events.KindLLMCall, map[string]any{"iter": iter, "messages": len(msgs), "est_tokens": estTokens})

	start := time.Now()
	done := make(chan chatResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- chatResult{err: fmt.Errorf("provider panic: %v", p)}
			}
		}()
		reply, err := c.client.Chat(ctx, msgs, c.cfg.Stream)
		done <- chatResult{reply: reply, err: err}
	}()
	res := <-done
	elapsed := time.Since(start)

	data := map[string]any{
		"iter":        iter,
		"model":       c.cfg.Model,
		"ok":          res.err == nil,
		"duration_ms": elapsed.Milliseconds(),
		"chars_in":    charsIn,
		"chars_out":   len(res.reply),
	}
	if res.err != nil {
		data["error"] = res.err.Error()
		r.log.Error("provider call failed", "iter", iter, "elapsed", elapsed.Round(time.Millisecond), "error", res.err)
	} else {
		r.log.Debug("provider replied", "iter", iter, "elapsed", elapsed.Round(time.Millisecond), "chars", len(res.reply))
	}
	c.emit(r, events.KindLLMResponse, data)
	return res.reply, res.err
}

// invoke dispatches a tool on a worker goroutine and waits for it.
func (c *core) invoke(ctx context.Context, r *run, iter int, inv thinkact.Invocation) (string, error) {
	r.log.Debug("dispatching tool", "iter", iter, "tool", inv.Name, "args", len(inv.Args))
	c.emit(r, events.KindToolCall, map[string]any{"iter": iter, "tool": inv.Name, "args": tools.JoinArgs(inv.Args)})

	ctx = tools.WithRunID(tools.WithConversationID(ctx, c.convID), r.id)
	start := time.Now()
	done := make(chan chatResult, 1)
	go func() {
		result, err := c.registry.Invoke(ctx, inv.Name, inv.Args)
		done <- chatResult{reply: result, err: err}
	}()
	res := <-done
	elapsed := time.Since(start)

	data := map[string]any{
		"iter":        iter,
		"tool":        inv.Name,
		"ok":          res.err == nil,
		"duration_ms": elapsed.Milliseconds(),
	}
	if res.err != nil {
		data["error"] = res.err.Error()
		r.log.Warn("tool failed", "iter", iter, "tool", inv.Name, "error", res.err)
	} else {
		r.log.Debug("tool done", "iter", iter, "tool", inv.Name, "elapsed", elapsed.Round(time.Millisecond))
	}
	c.emit(r, events.KindToolDone, data)
	return res.reply, res.err
}

// direct handles the tool: shorthand. It reports false when input does
// not use it. The user turn is already appended.
func (c *core) direct(ctx context.Context, r *run, input string) (*Response, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(input), prompts.DirectToolPrefix)
	if !ok {
		return nil, false
	}

	inv, ok := thinkact.ParseInvocation(rest)
	if !ok {
		err := errors.New("no tool named after " + prompts.DirectToolPrefix)
		content := prompts.ToolFailure(err)
		c.conv.Append(memory.RoleAssistant, content)
		return &Response{Content: content, Outcome: OutcomeError, Err: err}, true
	}

	result, err := c.invoke(ctx, r, 0, inv)
	resp := &Response{Content: result, Outcome: OutcomeToolResult, Err: err}
	if err != nil {
		resp.Content = prompts.ToolFailure(err)
	}
	c.conv.Append(memory.RoleAssistant, resp.Content)
	return resp, true
}

// cancelled ends a run whose context is done.
func (c *core) cancelled(ctx context.Context, iterations int) *Response {
	c.conv.Append(memory.RoleAssistant, prompts.CancelledMessage)
	return &Response{
		Content:    prompts.CancelledMessage,
		Outcome:    OutcomeCancelled,
		Iterations: iterations,
		Err:        fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx)),
	}
}

// providerFailed ends a run whose provider call failed.
func (c *core) providerFailed(err error, iterations int) *Response {
	content := prompts.LLMFailure(err)
	c.conv.Append(memory.RoleAssistant, content)
	return &Response{Content: content, Outcome: OutcomeError, Iterations: iterations, Err: err}
}
