package agent

import (
	"context"

	"github.com/nugget/ponder/internal/llm"
	"github.com/nugget/ponder/internal/memory"
	"github.com/nugget/ponder/internal/tools"
)

// Base is the single-shot agent: one provider call per run, no THINK/ACT
// parsing. It honours the tool: shorthand the same way Loop does.
type Base struct {
	*core
}

// NewBase creates a base agent.
func NewBase(cfg Config, client llm.Client, registry *tools.Registry, opts ...Option) (*Base, error) {
	c, err := newCore(cfg, client, registry, opts)
	if err != nil {
		return nil, err
	}
	return &Base{core: c}, nil
}

// Run appends input, then either runs the shorthand tool call or asks the
// provider once and appends its reply verbatim.
func (b *Base) Run(ctx context.Context, input string) *Response {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.begin("base", input)
	b.conv.Append(memory.RoleUser, input)

	if resp, ok := b.direct(ctx, r, input); ok {
		return b.finish(r, resp)
	}
	if ctx.Err() != nil {
		return b.finish(r, b.cancelled(ctx, 0))
	}

	reply, err := b.chat(ctx, r, 1)
	if err != nil {
		return b.finish(r, b.providerFailed(err, 1))
	}
	b.conv.Append(memory.RoleAssistant, reply)
	return b.finish(r, &Response{Content: reply, Outcome: OutcomeFinal, Iterations: 1})
}
