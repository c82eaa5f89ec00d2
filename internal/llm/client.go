// Package llm provides the chat-completion clients the analyst roles and
// the master brain talk to. Two wire formats cover every configured
// provider: the Anthropic native API (claude) and OpenAI-compatible chat
// completions (doubao/ark and friends).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Provider kinds. Kind selects the wire format, not the vendor: any
// OpenAI-compatible endpoint works with KindOpenAI and its own base URL.
const (
	KindClaude = "claude"
	KindOpenAI = "openai"
)

const anthropicVersion = "2023-06-01"

// Message is one prior turn replayed into the completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the single interface every caller depends on. agentName is a
// label for logs and records, not part of the wire request. history is
// optional; analysts call without it, the master brain replays the session.
type Client interface {
	Call(ctx context.Context, systemPrompt, userMessage, agentName string, history ...Message) (string, error)
}

// ClientConfig holds everything needed to talk to one provider endpoint.
type ClientConfig struct {
	Kind        string
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// HTTPClient implements Client over plain net/http. Safe for concurrent
// use; all mutable state lives in the request scope.
type HTTPClient struct {
	config     ClientConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPClient builds a client for one provider endpoint.
func NewHTTPClient(cfg ClientConfig, logger zerolog.Logger) *HTTPClient {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &HTTPClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "LLMClient").Str("model", cfg.Model).Logger(),
	}
}

// Call sends one completion request and returns the reply text.
func (c *HTTPClient) Call(ctx context.Context, systemPrompt, userMessage, agentName string, history ...Message) (string, error) {
	start := time.Now()

	var (
		reply string
		err   error
	)
	switch c.config.Kind {
	case KindClaude:
		reply, err = c.callClaude(ctx, systemPrompt, userMessage, history)
	case KindOpenAI:
		reply, err = c.callOpenAI(ctx, systemPrompt, userMessage, history)
	default:
		return "", fmt.Errorf("unsupported provider kind: %s", c.config.Kind)
	}

	if err != nil {
		c.logger.Error().Err(err).Str("agent", agentName).Msg("LLM call failed")
		return "", err
	}
	c.logger.Debug().
		Str("agent", agentName).
		Dur("elapsed", time.Since(start)).
		Int("reply_chars", len(reply)).
		Msg("LLM call completed")
	return reply, nil
}

// buildMessages assembles history plus the current user turn. Providers
// reject empty message lists, so a bare-template call gets a minimal
// kick-off turn.
func buildMessages(userMessage string, history []Message) []Message {
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, history...)
	if userMessage == "" && len(messages) == 0 {
		userMessage = "请开始分析。"
	}
	if userMessage != "" {
		messages = append(messages, Message{Role: "user", Content: userMessage})
	}
	return messages
}

// ==================== CLAUDE ====================

type claudeRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *HTTPClient) callClaude(ctx context.Context, systemPrompt, userMessage string, history []Message) (string, error) {
	req := claudeRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		System:      systemPrompt,
		Messages:    buildMessages(userMessage, history),
	}

	respBody, err := c.post(ctx, strings.TrimRight(c.config.BaseURL, "/")+"/v1/messages", req, map[string]string{
		"x-api-key":         c.config.APIKey,
		"anthropic-version": anthropicVersion,
	})
	if err != nil {
		return "", err
	}

	var parsed claudeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("API error: %s - %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("empty response from Claude")
	}
	return parsed.Content[0].Text, nil
}

// ==================== OPENAI-COMPATIBLE ====================

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

func (c *HTTPClient) callOpenAI(ctx context.Context, systemPrompt, userMessage string, history []Message) (string, error) {
	messages := make([]Message, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, buildMessages(userMessage, history)...)

	req := openAIRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}

	respBody, err := c.post(ctx, strings.TrimRight(c.config.BaseURL, "/")+"/chat/completions", req, map[string]string{
		"Authorization": "Bearer " + c.config.APIKey,
	})
	if err != nil {
		return "", err
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("API error: %s - %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty response from provider")
	}
	return parsed.Choices[0].Message.Content, nil
}

// post marshals the request, sends it and returns the raw body. Non-2xx
// responses are returned as errors carrying a body excerpt.
func (c *HTTPClient) post(ctx context.Context, url string, payload any, headers map[string]string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, excerpt(respBody, 300))
	}
	return respBody, nil
}

func excerpt(b []byte, max int) string {
	s := string(b)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
