package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nugget/ponder/internal/httpkit"
	"github.com/nugget/ponder/internal/memory"
)

// DefaultOpenAIURL is used when no base URL is configured.
const DefaultOpenAIURL = "https://api.openai.com/v1"

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature *float64
	maxTokens   int
	logger      *slog.Logger
}

// NewOpenAIClient creates a client for model at baseURL.
func NewOpenAIClient(baseURL, apiKey, model string, temperature *float64, maxTokens int, logger *slog.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	client := openai.NewClient(
		option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"),
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithTransport(t))),
		// The agent loop does not retry provider failures; neither do we.
		option.WithMaxRetries(0),
	)

	return &OpenAIClient{
		client:      client,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger.With("provider", "openai"),
	}
}

// Chat sends the conversation as a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, messages []memory.Message, stream bool) (string, error) {
	content, err := c.chat(ctx, messages, stream)
	return content, providerError("openai", err)
}

func (c *OpenAIClient) params(messages []memory.Message) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, m := range toWire(messages) {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if c.temperature != nil {
		params.Temperature = openai.Float(*c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}
	return params
}

func (c *OpenAIClient) chat(ctx context.Context, messages []memory.Message, stream bool) (string, error) {
	params := c.params(messages)
	c.logger.Debug("preparing request", "model", c.model, "messages", len(messages), "stream", stream)

	if !stream {
		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", err
		}
		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("response has no choices")
		}
		content := completion.Choices[0].Message.Content
		c.logger.Debug("response received",
			"model", completion.Model,
			"input_tokens", completion.Usage.PromptTokens,
			"output_tokens", completion.Usage.CompletionTokens,
			"finish_reason", completion.Choices[0].FinishReason,
		)
		c.logger.Log(ctx, LevelTrace, "response content", "content", content)
		return content, nil
	}

	s := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer s.Close()

	var content strings.Builder
	for s.Next() {
		chunk := s.Current()
		if len(chunk.Choices) > 0 {
			content.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	if err := s.Err(); err != nil {
		return "", err
	}

	c.logger.Debug("stream complete", "model", c.model, "content_len", content.Len())
	c.logger.Log(ctx, LevelTrace, "stream final content", "content", content.String())
	return content.String(), nil
}
