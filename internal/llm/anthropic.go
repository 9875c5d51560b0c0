package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/ponder/internal/httpkit"
	"github.com/nugget/ponder/internal/memory"
)

const (
	// DefaultAnthropicURL is the Messages API endpoint.
	DefaultAnthropicURL = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 4096
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	url         string
	apiKey      string
	model       string
	maxTokens   int
	temperature *float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewAnthropicClient creates a client for model. An empty url selects
// DefaultAnthropicURL; maxTokens <= 0 selects 4096.
func NewAnthropicClient(url, apiKey, model string, maxTokens int, temperature *float64, logger *slog.Logger) *AnthropicClient {
	if url == "" {
		url = DefaultAnthropicURL
	}
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		url:         url,
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			// Streaming responses can be long-lived; rely on ctx.
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamEvent struct {
	Type    string             `json:"type"`
	Delta   *anthropicDelta    `json:"delta,omitempty"`
	Message *anthropicResponse `json:"message,omitempty"`
	Usage   *anthropicUsage    `json:"usage,omitempty"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicDelta struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Chat sends the conversation to the Messages API.
func (c *AnthropicClient) Chat(ctx context.Context, messages []memory.Message, stream bool) (string, error) {
	content, err := c.chat(ctx, messages, stream)
	return content, providerError("anthropic", err)
}

func (c *AnthropicClient) chat(ctx context.Context, messages []memory.Message, stream bool) (string, error) {
	msgs, system := convertToAnthropic(messages)

	c.logger.Debug("preparing request",
		"model", c.model,
		"messages", len(msgs),
		"stream", stream,
		"system_len", len(system),
	)

	req := anthropicRequest{
		Model:       c.model,
		Messages:    msgs,
		System:      system,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      stream,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, errBody)
	}

	if !stream {
		return c.handleNonStreaming(ctx, resp.Body)
	}
	return c.handleStreaming(ctx, resp.Body)
}

func (c *AnthropicClient) handleNonStreaming(ctx context.Context, body io.Reader) (string, error) {
	var resp anthropicResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	c.logger.Debug("response received",
		"model", resp.Model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason,
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", content.String())
	return content.String(), nil
}

// handleStreaming reads server-sent events and concatenates text deltas.
func (c *AnthropicClient) handleStreaming(ctx context.Context, body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		content strings.Builder
		usage   anthropicUsage
		model   string
	)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				model = event.Message.Model
				usage = event.Message.Usage
			}
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" {
				content.WriteString(event.Delta.Text)
			}
		case "message_delta":
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}
		case "error":
			if event.Error != nil {
				return "", fmt.Errorf("stream error: %s: %s", event.Error.Type, event.Error.Message)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}

	c.logger.Debug("stream complete",
		"model", model,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"content_len", content.Len(),
	)
	c.logger.Log(ctx, LevelTrace, "stream final content", "content", content.String())
	return content.String(), nil
}

// convertToAnthropic lifts system messages into the separate system
// prompt and merges consecutive turns of the same role, which the
// Messages API rejects.
func convertToAnthropic(messages []memory.Message) ([]anthropicMessage, string) {
	var (
		systemParts []string
		result      []anthropicMessage
	)

	for _, msg := range messages {
		if msg.Role == memory.RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		role := wireRole(msg.Role)
		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content += "\n\n" + msg.Content
			continue
		}
		result = append(result, anthropicMessage{Role: role, Content: msg.Content})
	}

	return result, strings.Join(systemParts, "\n\n")
}
