package agent

import (
	"context"

	"github.com/nugget/ponder/internal/llm"
	"github.com/nugget/ponder/internal/memory"
	"github.com/nugget/ponder/internal/prompts"
	"github.com/nugget/ponder/internal/thinkact"
	"github.com/nugget/ponder/internal/tools"
)

// Loop is the think-act agent. Each run alternates between asking the
// model for a turn and dispatching the tool its ACT directive names,
// until the model answers without one or the iteration cap is reached.
type Loop struct {
	*core
}

// NewLoop creates a think-act agent with a fresh conversation holding
// only the rendered system prompt.
func NewLoop(cfg Config, client llm.Client, registry *tools.Registry, opts ...Option) (*Loop, error) {
	c, err := newCore(cfg, client, registry, opts)
	if err != nil {
		return nil, err
	}
	return &Loop{core: c}, nil
}

// Run appends input as a user turn and drives the loop to completion.
// Concurrent calls are serialised. ctx is checked between iterations;
// a provider call or tool already running is always waited for.
func (l *Loop) Run(ctx context.Context, input string) *Response {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.begin("react", input)
	l.conv.Append(memory.RoleUser, input)

	if resp, ok := l.direct(ctx, r, input); ok {
		return l.finish(r, resp)
	}
	return l.finish(r, l.iterate(ctx, r))
}

func (l *Loop) iterate(ctx context.Context, r *run) *Response {
	limit := l.cfg.MaxIterations
	for iter := 1; ; iter++ {
		if ctx.Err() != nil {
			return l.cancelled(ctx, iter-1)
		}

		reply, err := l.chat(ctx, r, iter)
		if err != nil {
			return l.providerFailed(err, iter)
		}

		parsed := thinkact.Parse(reply)
		if !parsed.IsToolCall {
			final := thinkact.Clean(reply)
			l.conv.Append(memory.RoleAssistant, final)
			return &Response{Content: final, Outcome: OutcomeFinal, Iterations: iter}
		}

		inv, ok := parsed.Invocation()
		if !ok {
			l.conv.Append(memory.RoleAssistant, reply)
			return &Response{Content: reply, Outcome: OutcomeFinal, Iterations: iter}
		}

		if parsed.Think != "" {
			l.conv.Append(memory.RoleAssistant, prompts.ThoughtPrefix+parsed.Think)
		}
		l.conv.Append(memory.RoleAssistant, prompts.ActionPrefix+inv.String())

		result, toolErr := l.invoke(ctx, r, iter, inv)
		text := result
		if toolErr != nil {
			text = prompts.ToolFailure(toolErr)
		}
		l.conv.Append(memory.RoleTool, prompts.ToolResult(text))

		if iter < limit {
			continue
		}

		if l.cfg.OnLimit == LimitMessage {
			l.conv.Append(memory.RoleAssistant, prompts.IterationLimitMessage)
			return &Response{
				Content:    prompts.IterationLimitMessage,
				Outcome:    OutcomeLimit,
				Iterations: iter,
				Err:        ErrIterationLimit,
			}
		}
		return &Response{Content: text, Outcome: OutcomeToolResult, Iterations: iter, Err: toolErr}
	}
}
