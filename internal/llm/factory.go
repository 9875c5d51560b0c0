package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/ponder/internal/config"
	"github.com/nugget/ponder/internal/memory"
)

// New builds the provider described by cfg. A positive cfg.Timeout bounds
// every Chat call.
func New(cfg config.ProviderConfig, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var c Client
	switch cfg.Kind {
	case config.ProviderOpenAI:
		c = NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens, logger)
	case config.ProviderOllama:
		var temp float64
		if cfg.Temperature != nil {
			temp = *cfg.Temperature
		}
		c = NewOllamaClient(cfg.BaseURL, cfg.Model, logger, WithOllamaSampling(temp, cfg.MaxTokens))
	case config.ProviderAnthropic:
		c = NewAnthropicClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.MaxTokens, cfg.Temperature, logger)
	case config.ProviderScripted:
		if cfg.Script == "" {
			c = DefaultScript()
			break
		}
		s, err := LoadScript(cfg.Script)
		if err != nil {
			return nil, err
		}
		c = s
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}

	if cfg.Timeout > 0 {
		c = WithTimeout(c, cfg.Timeout)
	}
	return c, nil
}

// WithTimeout bounds every Chat call on c to d. A call that runs out of
// time fails with a *ProviderError wrapping context.DeadlineExceeded.
func WithTimeout(c Client, d time.Duration) Client {
	return &timeoutClient{Client: c, timeout: d}
}

type timeoutClient struct {
	Client
	timeout time.Duration
}

func (t *timeoutClient) Chat(ctx context.Context, messages []memory.Message, stream bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Client.Chat(ctx, messages, stream)
}

// Ping forwards to the wrapped client when it supports it.
func (t *timeoutClient) Ping(ctx context.Context) error {
	if p, ok := t.Client.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
