// Package llm provides the long-lived language-model handle used for
// general conversation answers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/farmxpert/farmxpert/orchestrator/internal/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
)

// ErrEmptyCompletion is returned when the model sends no choices.
var ErrEmptyCompletion = errors.New("llm: no completion choices returned")

// Client wraps one openai-go client for the lifetime of the process.
type Client struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// New builds the client. It returns nil when no API key is configured so
// callers can fall back to canned answers.
func New(cfg config.LLMConfig, extra ...option.RequestOption) *Client {
	if cfg.APIKey == "" {
		log.Info().Msg("OPENAI_API_KEY not set; general answers will use the built-in fallback")
		return nil
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	log.Info().Str("model", model).Str("base_url", cfg.BaseURL).Msg("🧠 Language model client ready")
	return &Client{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: cfg.Timeout,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends one system + user exchange and returns the reply text.
// The configured timeout applies per call on top of ctx.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	log.Debug().
		Str("model", c.model).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Int64("total_tokens", completion.Usage.TotalTokens).
		Msg("Chat completion finished")
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}
