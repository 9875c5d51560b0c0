package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nugget/ponder/internal/agent"
	"github.com/nugget/ponder/internal/config"
	"github.com/nugget/ponder/internal/events"
	"github.com/nugget/ponder/internal/fetch"
	"github.com/nugget/ponder/internal/llm"
	"github.com/nugget/ponder/internal/prompts"
	"github.com/nugget/ponder/internal/tools"
	"github.com/nugget/ponder/internal/usage"
	"github.com/nugget/ponder/internal/websearch"
)

// app holds the components every command shares. Agents are built per
// conversation from these.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   llm.Client
	registry *tools.Registry
	prompts  *prompts.Manager
	bus      *events.Bus
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	client, err := llm.New(cfg.Provider, logger)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	logger.Info("provider configured",
		"kind", cfg.Provider.Kind,
		"model", cfg.Provider.Model,
		"stream", cfg.Provider.Stream,
	)

	registry, err := newRegistry(cfg.Tools)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		registry: registry,
		prompts:  prompts.NewManager(),
		bus:      events.New(),
	}, nil
}

// newRegistry registers the builtin tools plus web_fetch and web_search
// when configured.
func newRegistry(cfg config.ToolsConfig) (*tools.Registry, error) {
	r := tools.NewRegistry()
	tools.RegisterBuiltins(r, cfg.Corpus)
	if cfg.Fetch.Enabled {
		fetch.Register(r, fetch.New(
			fetch.WithMaxChars(cfg.Fetch.MaxChars),
			fetch.WithTimeout(cfg.Fetch.Timeout),
		))
	}
	if ws := cfg.WebSearch; ws.Provider != "" {
		p, err := websearch.New(ws.Provider, ws.URL, ws.APIKey)
		if err != nil {
			return nil, fmt.Errorf("web_search: %w", err)
		}
		websearch.Register(r, p, ws.Count)
	}
	return r, nil
}

// newAgent builds the agent for one conversation in the configured mode.
func (a *app) newAgent(conversationID string) (agent.Agent, error) {
	cfg := agent.Config{
		Name:          a.cfg.Agent.Name,
		SystemPrompt:  a.cfg.Agent.SystemPrompt,
		MaxIterations: a.cfg.Agent.MaxIterations,
		OnLimit:       a.cfg.Agent.OnLimit,
		Stream:        a.cfg.Provider.Stream,
		Model:         a.cfg.Provider.Model,
	}
	opts := []agent.Option{
		agent.WithLogger(a.logger),
		agent.WithEventBus(a.bus),
		agent.WithPrompts(a.prompts),
	}
	if conversationID != "" {
		opts = append(opts, agent.WithConversationID(conversationID))
	}

	if a.cfg.Agent.Mode == config.ModeBase {
		return agent.NewBase(cfg, a.client, a.registry, opts...)
	}
	return agent.NewLoop(cfg, a.client, a.registry, opts...)
}

// openUsage opens the usage audit under the data directory and starts
// feeding it from the event bus. The returned func stops the consumer and
// closes the store.
func (a *app) openUsage(ctx context.Context) (*usage.Store, func(), error) {
	if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := usage.Open(a.cfg.UsageDBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open usage store: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := a.bus.Subscribe(256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		store.Consume(ctx, ch, a.logger)
	}()

	a.logger.Info("usage audit enabled", "path", a.cfg.UsageDBPath())
	return store, func() {
		cancel()
		<-done
		a.bus.Unsubscribe(ch)
		if err := store.Close(); err != nil {
			a.logger.Warn("close usage store", "error", err)
		}
	}, nil
}
