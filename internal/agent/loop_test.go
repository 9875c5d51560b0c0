package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/ponder/internal/events"
	"github.com/nugget/ponder/internal/llm"
	"github.com/nugget/ponder/internal/memory"
	"github.com/nugget/ponder/internal/prompts"
	"github.com/nugget/ponder/internal/tools"
)

// mockLLM replays canned replies in order. Once they run out it repeats
// the last one. A non-nil err is returned on every call instead.
type mockLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]memory.Message
	// onCall runs after each call is recorded, outside the lock.
	onCall func(n int)
}

func (m *mockLLM) Chat(_ context.Context, msgs []memory.Message, _ bool) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, msgs)
	n := len(m.calls)
	hook := m.onCall
	m.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "", fmt.Errorf("mockLLM: no replies configured")
	}
	i := n - 1
	if i >= len(m.replies) {
		i = len(m.replies) - 1
	}
	return m.replies[i], nil
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry() *tools.Registry {
	r := tools.NewRegistry()
	tools.RegisterBuiltins(r, nil)
	return r
}

func buildTestLoop(t *testing.T, mock *mockLLM, cfg Config, opts ...Option) *Loop {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	l, err := NewLoop(cfg, mock, testRegistry(), opts...)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return l
}

// turns returns the history after the system message.
func turns(a Agent) []memory.Message {
	h := a.History()
	if len(h) > 0 && h[0].Role == memory.RoleSystem {
		return h[1:]
	}
	return h
}

func TestLoop_FinalAnswerRoundTrip(t *testing.T) {
	mock := &mockLLM{replies: []string{"THINK: a plain greeting will do. Hello there!"}}
	l := buildTestLoop(t, mock, Config{MaxIterations: 3})

	resp := l.Run(context.Background(), "hi")

	if resp.Outcome != OutcomeFinal {
		t.Fatalf("Outcome = %q, want %q", resp.Outcome, OutcomeFinal)
	}
	if resp.Err != nil {
		t.Errorf("Err = %v", resp.Err)
	}
	if resp.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", resp.Iterations)
	}

	got := turns(l)
	if len(got) != 2 {
		t.Fatalf("history = %+v, want [user, assistant]", got)
	}
	if got[0].Role != memory.RoleUser || got[0].Content != "hi" {
		t.Errorf("turn 0 = %+v", got[0])
	}
	if got[1].Role != memory.RoleAssistant {
		t.Errorf("turn 1 role = %q", got[1].Role)
	}
	if strings.Contains(got[1].Content, "THINK:") || strings.Contains(got[1].Content, "ACT:") {
		t.Errorf("final message still has labels: %q", got[1].Content)
	}
	if got[1].Content != resp.Content {
		t.Errorf("appended %q, returned %q", got[1].Content, resp.Content)
	}
	if resp.Content != "a plain greeting will do. Hello there!" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestLoop_EmptyActIsFinal(t *testing.T) {
	mock := &mockLLM{replies: []string{"Nothing to do here.\nACT:   "}}
	l := buildTestLoop(t, mock, Config{MaxIterations: 3})

	resp := l.Run(context.Background(), "anything?")

	if resp.Outcome != OutcomeFinal {
		t.Fatalf("Outcome = %q, want final", resp.Outcome)
	}
	if resp.Content != "Nothing to do here." {
		t.Errorf("Content = %q", resp.Content)
	}
	if mock.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", mock.callCount())
	}
}

func TestLoop_ToolThenFinal(t *testing.T) {
	mock := &mockLLM{replies: []string{
		"THINK: I need the sum.\nACT: add 15 27",
		"The answer is 42.",
	}}
	l := buildTestLoop(t, mock, Config{MaxIterations: 5})

	resp := l.Run(context.Background(), "what is 15 + 27?")

	if resp.Outcome != OutcomeFinal || resp.Content != "The answer is 42." {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", resp.Iterations)
	}

	want := []memory.Message{
		{Role: memory.RoleUser, Content: "what is 15 + 27?"},
		{Role: memory.RoleAssistant, Content: "Thought: I need the sum."},
		{Role: memory.RoleAssistant, Content: "Action: add 15 27"},
		{Role: memory.RoleTool, Content: "Tool result: 42"},
		{Role: memory.RoleAssistant, Content: "The answer is 42."},
	}
	got := turns(l)
	if len(got) != len(want) {
		t.Fatalf("history len = %d, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Role != want[i].Role || got[i].Content != want[i].Content {
			t.Errorf("turn %d = {%s %q}, want {%s %q}", i, got[i].Role, got[i].Content, want[i].Role, want[i].Content)
		}
	}

	// The second provider call sees the tool result.
	second := mock.calls[1]
	last := second[len(second)-1]
	if last.Role != memory.RoleTool || last.Content != "Tool result: 42" {
		t.Errorf("second call ended with %+v", last)
	}
}

func TestLoop_NoThoughtWithoutRationale(t *testing.T) {
	mock := &mockLLM{replies: []string{"ACT: add 1 2", "3"}}
	l := buildTestLoop(t, mock, Config{MaxIterations: 5})

	l.Run(context.Background(), "1+2")

	for _, m := range turns(l) {
		if strings.HasPrefix(m.Content, prompts.ThoughtPrefix) {
			t.Errorf("unexpected thought message %q", m.Content)
		}
	}
}

func TestLoop_UnknownToolContinues(t *testing.T) {
	mock := &mockLLM{replies: []string{"ACT: foo 1", "I could not find that tool."}}
	l := buildTestLoop(t, mock, Config{MaxIterations: 5})

	resp := l.Run(context.Background(), "use foo")

	if resp.Outcome != OutcomeFinal {
		t.Fatalf("Outcome = %q, want final", resp.Outcome)
	}
	if resp.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2 (the failed call counts)", resp.Iterations)
	}
	if mock.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", mock.callCount())
	}

	var toolMsg *memory.Message
	for _, m := range turns(l) {
		if m.Role == memory.RoleTool {
			toolMsg = &m
			break
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message appended")
	}
	if !strings.HasPrefix(toolMsg.Content, prompts.ToolResultPrefix) || !strings.Contains(toolMsg.Content, `tool "foo" not found`) {
		t.Errorf("tool message = %q", toolMsg.Content)
	}
}

func TestLoop_ToolExecutionErrorContinues(t *testing.T) {
	mock := &mockLLM{replies: []string{"ACT: add 1 banana", "Sorry."}}
	l := buildTestLoop(t, mock, Config{MaxIterations: 5})

	resp := l.Run(context.Background(), "add")

	if resp.Outcome != OutcomeFinal || resp.Content != "Sorry." {
		t.Fatalf("resp = %+v", resp)
	}
	h := turns(l)
	toolMsg := h[2]
	if toolMsg.Role != memory.RoleTool || !strings.Contains(toolMsg.Content, "Tool call failed:") {
		t.Errorf("tool message = %+v", toolMsg)
	}
}

func TestLoop_MaxIterationsOneReturnsToolResult(t *testing.T) {
	mock := &mockLLM{replies: []string{"ACT: add 3 4", "never used"}}
	l := buildTestLoop(t, mock, Config{MaxIterations: 1})

	resp := l.Run(context.Background(), "3+4")

	if resp.Outcome != OutcomeToolResult {
		t.Fatalf("Outcome = %q, want %q", resp.Outcome, OutcomeToolResult)
	}
	if resp.Content != "7" {
		t.Errorf("Content = %q, want 7", resp.Content)
	}
	if mock.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", mock.callCount())
	}
}

func TestLoop_IterationCap(t *testing.T) {
	tests := []struct {
		name        string
		max         int
		onLimit     string
		wantOutcome Outcome
		wantContent string
		wantErr     error
	}{
		{"message policy", 3, LimitMessage, OutcomeLimit, prompts.IterationLimitMessage, ErrIterationLimit},
		{"message policy single", 1, LimitMessage, OutcomeLimit, prompts.IterationLimitMessage, ErrIterationLimit},
		{"tool result policy", 4, LimitToolResult, OutcomeToolResult, "2", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockLLM{replies: []string{"THINK: again\nACT: add 1 1"}}
			l := buildTestLoop(t, mock, Config{MaxIterations: tt.max, OnLimit: tt.onLimit})

			resp := l.Run(context.Background(), "loop forever")

			if resp.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %q, want %q", resp.Outcome, tt.wantOutcome)
			}
			if resp.Content != tt.wantContent {
				t.Errorf("Content = %q, want %q", resp.Content, tt.wantContent)
			}
			if !errors.Is(resp.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", resp.Err, tt.wantErr)
			}
			if got := mock.callCount(); got != tt.max {
				t.Errorf("provider calls = %d, want %d", got, tt.max)
			}
			if resp.Iterations != tt.max {
				t.Errorf("Iterations = %d, want %d", resp.Iterations, tt.max)
			}

			hist := l.History()
			last := hist[len(hist)-1]
			if tt.onLimit == LimitMessage && last.Content != prompts.IterationLimitMessage {
				t.Errorf("last message = %q, want the cap message", last.Content)
			}
		})
	}
}

func TestLoop_ProviderError(t *testing.T) {
	cause := errors.New("connection refused")
	mock := &mockLLM{err: &llm.ProviderError{Provider: "mock", Cause: cause}}
	l := buildTestLoop(t, mock, Config{MaxIterations: 3})

	resp := l.Run(context.Background(), "hello")

	if resp.Outcome != OutcomeError {
		t.Fatalf("Outcome = %q, want error", resp.Outcome)
	}
	var pe *llm.ProviderError
	if !errors.As(resp.Err, &pe) {
		t.Errorf("Err = %T, want *llm.ProviderError", resp.Err)
	}
	if !errors.Is(resp.Err, cause) {
		t.Errorf("Err does not wrap the cause: %v", resp.Err)
	}
	if !strings.HasPrefix(resp.Content, "LLM call failed: ") {
		t.Errorf("Content = %q", resp.Content)
	}
	if mock.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1 (no retry)", mock.callCount())
	}

	hist := l.History()
	last := hist[len(hist)-1]
	if last.Role != memory.RoleAssistant || last.Content != resp.Content {
		t.Errorf("last message = %+v", last)
	}
}

type panicLLM struct{}

func (panicLLM) Chat(context.Context, []memory.Message, bool) (string, error) {
	panic("boom")
}

func TestLoop_ProviderPanic(t *testing.T) {
	l, err := NewLoop(Config{MaxIterations: 2}, panicLLM{}, testRegistry(), WithLogger(discardLogger()))
	if err != nil {
		t.Fatal(err)
	}

	resp := l.Run(context.Background(), "hello")
	if resp.Outcome != OutcomeError || !strings.Contains(resp.Content, "boom") {
		t.Errorf("resp = %+v", resp)
	}
}

func TestLoop_DirectToolShorthand(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantOutcome Outcome
		wantContent string
		wantErr     error
	}{
		{"no space", "tool:add 3 4", OutcomeToolResult, "7", nil},
		{"spaced", "tool: add 3 4 5", OutcomeToolResult, "12", nil},
		{"unknown tool", "tool: nope", OutcomeToolResult, `Tool call failed: tool "nope" not found`, tools.ErrToolNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockLLM{replies: []string{"should not be called"}}
			l := buildTestLoop(t, mock, Config{MaxIterations: 3})

			resp := l.Run(context.Background(), tt.input)

			if mock.callCount() != 0 {
				t.Errorf("provider calls = %d, want 0", mock.callCount())
			}
			if resp.Outcome != tt.wantOutcome || resp.Content != tt.wantContent {
				t.Errorf("resp = {%q %q}, want {%q %q}", resp.Outcome, resp.Content, tt.wantOutcome, tt.wantContent)
			}
			if !errors.Is(resp.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", resp.Err, tt.wantErr)
			}

			got := turns(l)
			if len(got) != 2 || got[0].Content != tt.input || got[1].Content != resp.Content {
				t.Errorf("history = %+v", got)
			}
		})
	}
}

func TestLoop_DirectToolMissingName(t *testing.T) {
	mock := &mockLLM{replies: []string{"unused"}}
	l := buildTestLoop(t, mock, Config{MaxIterations: 3})

	resp := l.Run(context.Background(), "tool:   ")

	if resp.Outcome != OutcomeError || resp.Err == nil {
		t.Errorf("resp = %+v, want an error outcome", resp)
	}
	if mock.callCount() != 0 {
		t.Errorf("provider calls = %d, want 0", mock.callCount())
	}
}

func TestLoop_CancelledBeforeStart(t *testing.T) {
	mock := &mockLLM{replies: []string{"hi"}}
	l := buildTestLoop(t, mock, Config{MaxIterations: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := l.Run(ctx, "hello")

	if resp.Outcome != OutcomeCancelled {
		t.Fatalf("Outcome = %q, want cancelled", resp.Outcome)
	}
	if !errors.Is(resp.Err, ErrCancelled) || !errors.Is(resp.Err, context.Canceled) {
		t.Errorf("Err = %v", resp.Err)
	}
	if mock.callCount() != 0 {
		t.Errorf("provider calls = %d, want 0", mock.callCount())
	}
}

func TestLoop_CancelledBetweenIterations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := &mockLLM{
		replies: []string{"ACT: add 2 2", "never reached"},
		onCall:  func(int) { cancel() },
	}
	l := buildTestLoop(t, mock, Config{MaxIterations: 5})

	resp := l.Run(ctx, "2+2")

	if resp.Outcome != OutcomeCancelled {
		t.Fatalf("Outcome = %q, want cancelled", resp.Outcome)
	}
	if resp.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", resp.Iterations)
	}
	if mock.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", mock.callCount())
	}

	// The in-flight iteration committed fully before the run stopped.
	h := turns(l)
	var sawResult bool
	for _, m := range h {
		if m.Role == memory.RoleTool && m.Content == "Tool result: 4" {
			sawResult = true
		}
	}
	if !sawResult {
		t.Errorf("tool result missing from history: %+v", h)
	}
}

func TestLoop_EventsPublished(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)

	mock := &mockLLM{replies: []string{"ACT: add 1 2", "3"}}
	l := buildTestLoop(t, mock, Config{MaxIterations: 3, Model: "test-model"},
		WithEventBus(bus), WithConversationID("conv-1"))

	resp := l.Run(context.Background(), "1+2")

	want := []string{
		events.KindRunStart,
		events.KindLLMCall, events.KindLLMResponse,
		events.KindToolCall, events.KindToolDone,
		events.KindLLMCall, events.KindLLMResponse,
		events.KindRunComplete,
	}
	for i, kind := range want {
		select {
		case e := <-ch:
			if e.Kind != kind {
				t.Errorf("event %d kind = %q, want %q", i, e.Kind, kind)
			}
			if e.Source != events.SourceAgent {
				t.Errorf("event %d source = %q", i, e.Source)
			}
			if e.Data["run_id"] != resp.RunID || e.Data["conversation_id"] != "conv-1" {
				t.Errorf("event %d ids = %v / %v", i, e.Data["run_id"], e.Data["conversation_id"])
			}
			if e.Kind == events.KindLLMCall {
				if n, ok := e.Data["est_tokens"].(int); !ok || n <= 0 {
					t.Errorf("llm_call est_tokens = %v", e.Data["est_tokens"])
				}
			}
			if e.Kind == events.KindLLMResponse && e.Data["model"] != "test-model" {
				t.Errorf("llm_response model = %v", e.Data["model"])
			}
			if e.Kind == events.KindRunComplete && e.Data["outcome"] != string(OutcomeFinal) {
				t.Errorf("run_complete outcome = %v", e.Data["outcome"])
			}
		default:
			t.Fatalf("missing event %d (%s)", i, kind)
		}
	}
}

func TestLoop_ResetKeepsSystemPrompt(t *testing.T) {
	mock := &mockLLM{replies: []string{"hello"}}
	l := buildTestLoop(t, mock, Config{Name: "Tester", MaxIterations: 2})

	l.Run(context.Background(), "hi")
	if len(l.History()) != 3 {
		t.Fatalf("history len = %d, want 3", len(l.History()))
	}

	if err := l.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	h := l.History()
	if len(h) != 1 || h[0].Role != memory.RoleSystem {
		t.Fatalf("history after reset = %+v", h)
	}
	if !strings.Contains(h[0].Content, "Tester") || !strings.Contains(h[0].Content, "add") {
		t.Errorf("system prompt missing name or tools: %q", h[0].Content)
	}
}

func TestLoop_SystemPromptOverride(t *testing.T) {
	mock := &mockLLM{replies: []string{"ok"}}
	l := buildTestLoop(t, mock, Config{
		Name:          "Tester",
		SystemPrompt:  "You are {{.Name}} with {{len .Tools}} tools.",
		MaxIterations: 1,
	})

	h := l.History()
	if len(h) != 1 || h[0].Content != "You are Tester with 3 tools." {
		t.Errorf("system = %+v", h)
	}
}

func TestLoop_RefreshToolsReplacesSystem(t *testing.T) {
	reg := testRegistry()
	mock := &mockLLM{replies: []string{"ok"}}
	l, err := NewLoop(Config{MaxIterations: 1}, mock, reg, WithLogger(discardLogger()))
	if err != nil {
		t.Fatal(err)
	}
	l.Run(context.Background(), "hi")

	reg.RegisterFunc("echo", "Echo the arguments. Usage: echo <text>", func(_ context.Context, args []tools.Token) (string, error) {
		return tools.JoinArgs(args), nil
	})
	if err := l.RefreshTools(); err != nil {
		t.Fatal(err)
	}

	h := l.History()
	if len(h) != 3 {
		t.Fatalf("history len = %d, want 3", len(h))
	}
	if !strings.Contains(h[0].Content, "echo") {
		t.Errorf("system prompt not refreshed: %q", h[0].Content)
	}
}

func TestLoop_ConcurrentRunsSerialise(t *testing.T) {
	mock := &mockLLM{replies: []string{"ok"}}
	l := buildTestLoop(t, mock, Config{MaxIterations: 2})

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Run(context.Background(), fmt.Sprintf("q%d", i))
		}(i)
	}
	wg.Wait()

	h := turns(l)
	if len(h) != 2*n {
		t.Fatalf("history len = %d, want %d", len(h), 2*n)
	}
	for i := 0; i < len(h); i += 2 {
		if h[i].Role != memory.RoleUser || h[i+1].Role != memory.RoleAssistant {
			t.Errorf("turns %d,%d interleaved: %s then %s", i, i+1, h[i].Role, h[i+1].Role)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{MaxIterations: 1, OnLimit: LimitToolResult}, false},
		{"message policy", Config{MaxIterations: 10, OnLimit: LimitMessage}, false},
		{"zero iterations", Config{MaxIterations: 0, OnLimit: LimitToolResult}, true},
		{"negative iterations", Config{MaxIterations: -1, OnLimit: LimitMessage}, true},
		{"bad policy", Config{MaxIterations: 1, OnLimit: "retry"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewLoop_Errors(t *testing.T) {
	if _, err := NewLoop(Config{}, nil, nil); err == nil {
		t.Error("nil client should fail")
	}
	if _, err := NewLoop(Config{MaxIterations: -2}, &mockLLM{}, nil); err == nil {
		t.Error("negative MaxIterations should fail")
	}
	if _, err := NewLoop(Config{SystemPrompt: "{{.Broken"}, &mockLLM{}, nil); err == nil {
		t.Error("unparsable system prompt should fail")
	}
}

func TestNewLoop_Defaults(t *testing.T) {
	l, err := NewLoop(Config{}, &mockLLM{}, nil, WithLogger(discardLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if l.cfg.MaxIterations != DefaultMaxIterations || l.cfg.OnLimit != LimitToolResult {
		t.Errorf("defaults = %+v", l.cfg)
	}
	if l.ConversationID() == "" {
		t.Error("conversation ID not assigned")
	}
}

var _ Agent = (*Loop)(nil)

func TestLoop_ToolContextCarriesIDs(t *testing.T) {
	var gotConv, gotRun string
	r := testRegistry()
	r.RegisterFunc("whoami", "", func(ctx context.Context, _ []tools.Token) (string, error) {
		gotConv = tools.ConversationIDFromContext(ctx)
		gotRun = tools.RunIDFromContext(ctx)
		return "ok", nil
	})

	mock := &mockLLM{replies: []string{"ACT: whoami", "done"}}
	l, err := NewLoop(Config{MaxIterations: 3}, mock, r, WithLogger(discardLogger()), WithConversationID("conv-7"))
	if err != nil {
		t.Fatal(err)
	}

	resp := l.Run(context.Background(), "who am I?")
	if gotConv != "conv-7" {
		t.Errorf("tool saw conversation %q", gotConv)
	}
	if gotRun == "" || gotRun != resp.RunID {
		t.Errorf("tool saw run %q, response run %q", gotRun, resp.RunID)
	}
}
