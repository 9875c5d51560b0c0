package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/ponder/internal/httpkit"
	"github.com/nugget/ponder/internal/memory"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaClient talks to a local Ollama server's /api/chat endpoint.
type OllamaClient struct {
	baseURL    string
	model      string
	options    *ollamaOptions
	httpClient *http.Client
	logger     *slog.Logger
}

// OllamaOption configures an OllamaClient.
type OllamaOption func(*OllamaClient)

// WithOllamaSampling sets the temperature and maximum reply length.
// Zero values leave the model defaults in place.
func WithOllamaSampling(temperature float64, maxTokens int) OllamaOption {
	return func(c *OllamaClient) {
		if temperature == 0 && maxTokens == 0 {
			return
		}
		c.options = &ollamaOptions{Temperature: temperature, NumPredict: maxTokens}
	}
}

// WithOllamaHTTPClient replaces the default HTTP client.
func WithOllamaHTTPClient(hc *http.Client) OllamaOption {
	return func(c *OllamaClient) { c.httpClient = hc }
}

// NewOllamaClient creates a client for model at baseURL.
func NewOllamaClient(baseURL, model string, logger *slog.Logger, opts ...OllamaOption) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Large local models can sit for minutes before the first token.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 5 * time.Minute

	c := &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		logger:  logger.With("provider", "ollama"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []wireMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string      `json:"model"`
	Message         wireMessage `json:"message"`
	Done            bool        `json:"done"`
	Error           string      `json:"error,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
}

// Chat sends the conversation to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, messages []memory.Message, stream bool) (string, error) {
	content, err := c.chat(ctx, messages, stream)
	return content, providerError("ollama", err)
}

func (c *OllamaClient) chat(ctx context.Context, messages []memory.Message, stream bool) (string, error) {
	req := ollamaRequest{
		Model:    c.model,
		Messages: toWire(messages),
		Stream:   stream,
		Options:  c.options,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("preparing request", "model", c.model, "messages", len(messages), "stream", stream)
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		var chatResp ollamaResponse
		if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if chatResp.Error != "" {
			return "", errors.New(chatResp.Error)
		}
		c.logResponse(ctx, &chatResp, chatResp.Message.Content)
		return chatResp.Message.Content, nil
	}

	// Streaming replies are newline-delimited JSON objects.
	var (
		content strings.Builder
		final   ollamaResponse
	)
	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaResponse
		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			return "", fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return "", errors.New(chunk.Error)
		}
		content.WriteString(chunk.Message.Content)
		if chunk.Done {
			final = chunk
			break
		}
	}

	c.logResponse(ctx, &final, content.String())
	return content.String(), nil
}

func (c *OllamaClient) logResponse(ctx context.Context, r *ollamaResponse, content string) {
	c.logger.Debug("response received",
		"model", r.Model,
		"input_tokens", r.PromptEvalCount,
		"output_tokens", r.EvalCount,
		"content_len", len(content),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", content)
}

// Ping checks that the Ollama server answers.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return providerError("ollama", fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return providerError("ollama", fmt.Errorf("request failed: %w", err))
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)

	if resp.StatusCode != http.StatusOK {
		return providerError("ollama", fmt.Errorf("API error %d", resp.StatusCode))
	}
	return nil
}
