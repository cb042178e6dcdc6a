package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig defines configuration options for the chat-completion scorer.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	Logger      zerolog.Logger
}

// OpenAIScorer implements Scorer against an OpenAI-compatible chat completion API.
type OpenAIScorer struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger zerolog.Logger
}

// NewOpenAIScorer builds a new scorer using the provided configuration.
func NewOpenAIScorer(cfg OpenAIConfig) (*OpenAIScorer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultScorerTimeout
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	config.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIScorer{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "openai_scorer").Logger(),
	}, nil
}

// Model returns the configured model name.
func (s *OpenAIScorer) Model() string {
	return s.cfg.Model
}

// Complete sends the prompt as a JSON-mode chat completion.
func (s *OpenAIScorer) Complete(ctx context.Context, prompt string) (string, error) {
	request := openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := s.client.CreateChatCompletion(ctx, request)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: status %d: %s", ErrScorerUnavailable, apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", classifyTransportError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrIncompleteResponse)
	}
	if resp.Choices[0].FinishReason == openai.FinishReasonLength {
		s.logger.Warn().Str("model", s.cfg.Model).Msg("completion truncated by token limit")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
