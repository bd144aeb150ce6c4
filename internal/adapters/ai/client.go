package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/config"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/metrics"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

const breakerName = "ai-gateway"

// Client talks to the AI gateway. It implements domain.Translator and domain.Summarizer.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  domain.Logger
}

// NewClient builds the gateway client. Only transient failures count against the breaker;
// a rejected input says nothing about the gateway's health.
func NewClient(cfg config.AIConfig, logger domain.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ai gateway base url is not configured")
	}
	failures := uint32(5)
	if cfg.BreakerFailures > 0 {
		failures = uint32(cfg.BreakerFailures)
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: config.Seconds(cfg.TimeoutSeconds, 120*time.Second)},
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     config.Seconds(cfg.BreakerTimeoutSeconds, 30*time.Second),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || domain.KindOf(err) == domain.KindValidation
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, stateValue(to))
			logger.Warn(context.Background(), "AI gateway circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	metrics.SetBreakerState(breakerName, 0)
	return c, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

type summarizeRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"targetLanguage"`
}

// Translate uploads the spilled file and returns the translated text.
func (c *Client) Translate(ctx context.Context, file *domain.SpilledFile, targetLanguage string) (*domain.TranslationResult, error) {
	if file == nil || file.Body == nil {
		return nil, domain.NewValidationError("translate", errors.New("no file to translate"))
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("target_language", targetLanguage); err != nil {
		return nil, err
	}
	part, err := mw.CreateFormFile("file", file.Name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file.Body); err != nil {
		return nil, domain.NewTransientError("read spilled file", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	body, err := c.call(ctx, "translate", "/v1/translate", mw.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, err
	}
	var out domain.TranslationResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, domain.NewTransientError("decode translation", err)
	}
	return &out, nil
}

// Summarize asks the gateway for a structured summary of text.
func (c *Client) Summarize(ctx context.Context, text, targetLanguage string) (*domain.Summary, error) {
	payload, err := json.Marshal(summarizeRequest{Text: text, TargetLanguage: targetLanguage})
	if err != nil {
		return nil, err
	}
	body, err := c.call(ctx, "summarize", "/v1/summarize", "application/json", payload)
	if err != nil {
		return nil, err
	}
	var out domain.Summary
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, domain.NewTransientError("decode summary", err)
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, op, path, contentType string, payload []byte) ([]byte, error) {
	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, op, path, contentType, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.NewTransientError(op, err)
	}
	if err != nil {
		c.logger.Warn(ctx, "AI gateway call failed", "op", op, "duration", time.Since(start).String(), "error", err.Error())
		return nil, err
	}
	c.logger.Debug(ctx, "AI gateway call done", "op", op, "duration", time.Since(start).String())
	return body, nil
}

func (c *Client) do(ctx context.Context, op, path, contentType string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, domain.NewValidationError(op, err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewTransientError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewTransientError(op, err)
	}
	if err := classifyStatus(op, resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

const maxErrorBody = 256

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// classifyStatus maps the gateway status onto the retry taxonomy: 429 and 5xx are retried,
// any other 4xx is a rejected input.
func classifyStatus(op string, code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	msg := truncate(strings.TrimSpace(string(body)), maxErrorBody)
	err := fmt.Errorf("ai gateway returned %d: %s", code, msg)
	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return domain.NewTransientError(op, err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.NewFatalError(op, err)
	default:
		return domain.NewValidationError(op, err)
	}
}
