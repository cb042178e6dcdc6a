package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultScorerTimeout bounds a single scoring request.
const DefaultScorerTimeout = 120 * time.Second

// OllamaConfig configures the generate-endpoint scorer.
type OllamaConfig struct {
	URL        string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// OllamaScorer implements Scorer against an Ollama-style /api/generate endpoint.
type OllamaScorer struct {
	url    string
	model  string
	client *http.Client
	logger zerolog.Logger
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format"`
}

type generateResponse struct {
	Done     bool            `json:"done"`
	Response json.RawMessage `json:"response"`
}

// NewOllamaScorer builds a scorer for the configured endpoint.
func NewOllamaScorer(cfg OllamaConfig) (*OllamaScorer, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("scorer url is required")
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-coder"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultScorerTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &OllamaScorer{
		url:    cfg.URL,
		model:  cfg.Model,
		client: client,
		logger: cfg.Logger.With().Str("component", "ollama_scorer").Logger(),
	}, nil
}

// Model returns the configured model name.
func (s *OllamaScorer) Model() string {
	return s.model
}

// Complete posts a non-streaming JSON-format generation request and returns the model output.
func (s *OllamaScorer) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{Model: s.model, Prompt: prompt, Stream: false, Format: "json"})
	if err != nil {
		return "", fmt.Errorf("encode generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: endpoint %s returned 404", ErrScorerUnavailable, s.url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrScorerUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: %v", ErrScorerTimeout, err)
		}
		return "", fmt.Errorf("%w: decode generate response: %v", ErrInvalidResponse, err)
	}

	if !decoded.Done {
		s.logger.Warn().Str("model", s.model).Msg("scorer returned done=false")
		return "", ErrIncompleteResponse
	}

	var text string
	if err := json.Unmarshal(decoded.Response, &text); err == nil {
		return text, nil
	}
	// some servers return the generated object inline instead of as a string
	return string(decoded.Response), nil
}

func classifyTransportError(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrScorerTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
