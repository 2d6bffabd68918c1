package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ledgerpipe/ledgerpipe/pkg/config"
	"github.com/ledgerpipe/ledgerpipe/pkg/resilience"
)

// Client talks to the AI provider over HTTP/JSON. Every call is rate
// limited, retried with backoff, and guarded by a circuit breaker so a
// flapping provider degrades ingestion instead of stalling it.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	retry      resilience.Config
	logger     *slog.Logger
}

var (
	_ ExtractionClient     = (*Client)(nil)
	_ CategorizationClient = (*Client)(nil)
)

// NewClient builds a client from config. An empty base URL yields a
// client whose calls always return ErrUnavailable, which keeps the
// degraded path exercised without provider credentials.
func NewClient(cfg config.AIConfig, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		breaker:    resilience.NewCircuitBreaker("ai-provider"),
		retry: resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
		},
		logger: logger,
	}
}

type extractRequest struct {
	Model       string           `json:"model"`
	SampleLines []string         `json:"sample_lines"`
	Schema      ExtractionSchema `json:"schema"`
}

type suggestRequest struct {
	Model       string              `json:"model"`
	Description string              `json:"description"`
	Merchant    string              `json:"merchant"`
	History     []HistoricalExample `json:"history"`
}

// ExtractHints asks the provider to locate fields in the sample lines.
func (c *Client) ExtractHints(ctx context.Context, sampleLines []string, schema ExtractionSchema) (*FieldHints, error) {
	var hints FieldHints
	err := c.call(ctx, "/v1/extract-hints", extractRequest{
		Model:       c.model,
		SampleLines: sampleLines,
		Schema:      schema,
	}, &hints)
	if err != nil {
		return nil, err
	}
	return &hints, nil
}

// Suggest asks the provider for a category suggestion.
func (c *Client) Suggest(ctx context.Context, description, merchant string, history []HistoricalExample) (*Suggestion, error) {
	var s Suggestion
	err := c.call(ctx, "/v1/categorize", suggestRequest{
		Model:       c.model,
		Description: description,
		Merchant:    merchant,
		History:     history,
	}, &s)
	if err != nil {
		return nil, err
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", ErrUnavailable, s.Confidence)
	}
	return &s, nil
}

func (c *Client) call(ctx context.Context, path string, reqBody, out any) error {
	if c.baseURL == "" {
		return ErrUnavailable
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.retry, func() error {
			return c.doRequest(ctx, path, reqBody, out)
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("ai circuit breaker open", slog.String("path", path))
			return ErrUnavailable
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		c.logger.Warn("ai call failed", slog.String("path", path), slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, path string, reqBody, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return json.Unmarshal(body, out)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
