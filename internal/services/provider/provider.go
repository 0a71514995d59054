package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/legal-qa-backend-go/internal/config"
	"github.com/legal-qa-backend-go/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Service represents the completion provider interface
type Service interface {
	Complete(ctx context.Context, question string) (*models.Completion, error)
}

// ErrMissingCredentials indicates the provider API key is not configured
var ErrMissingCredentials = errors.New("provider API key not configured")

// systemPrompt is the fixed directive sent with every completion. It is
// deliberately non-negotiable so answers stay reproducible enough to cache.
const systemPrompt = "You are a legal information specialist. Answer questions " +
	"about law clearly and concisely in plain language, citing general legal " +
	"principles where relevant. Keep a measured, professional tone. Always " +
	"remind the user that this is general information, not legal advice, and " +
	"that they should consult a licensed attorney for their specific situation."

// fallbackAnswer substitutes for a usable answer body the provider omitted
const fallbackAnswer = "I wasn't able to produce an answer to that question. " +
	"Please try rephrasing it, or consult a licensed attorney."

type clientError struct {
	err error
}

func (e *clientError) Error() string { return e.err.Error() }
func (e *clientError) Unwrap() error { return e.err }

// OpenAIProvider calls an OpenAI-compatible chat completions endpoint
type OpenAIProvider struct {
	config     *config.ProviderConfig
	httpClient *http.Client
	throttle   *rate.Limiter
	logger     *logrus.Logger
}

// NewOpenAIProvider creates a completion provider
func NewOpenAIProvider(cfg *config.ProviderConfig, logger *logrus.Logger) Service {
	return &OpenAIProvider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		throttle: rate.NewLimiter(rate.Limit(cfg.OutboundRPS), cfg.OutboundBurst),
		logger:   logger,
	}
}

// Complete generates an answer for a question, with retry on upstream
// failures
func (s *OpenAIProvider) Complete(ctx context.Context, question string) (*models.Completion, error) {
	if s.config.APIKey == "" {
		return nil, ErrMissingCredentials
	}

	// Outbound throttle so concurrent requests cannot exhaust the
	// provider quota
	if err := s.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= s.config.MaxRetries; attempt++ {
		completion, err := s.complete(ctx, question, attempt)
		if err == nil {
			return completion, nil
		}

		lastErr = err
		var ce *clientError
		if errors.As(err, &ce) {
			// Client errors will not succeed on retry
			break
		}

		s.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		}).Warn("Provider request failed, retrying...")

		if attempt < s.config.MaxRetries {
			waitTime := s.config.RetryBaseWait * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}

	return nil, fmt.Errorf("provider request failed: %w", lastErr)
}

// complete performs a single request attempt
func (s *OpenAIProvider) complete(ctx context.Context, question string, attempt int) (*models.Completion, error) {
	reqBody := map[string]interface{}{
		"model": s.config.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": question},
		},
		"max_tokens":  s.config.MaxTokens,
		"temperature": s.config.Temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Per-attempt timeout so a stalled attempt doesn't eat the retry budget
	reqCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/chat/completions", strings.TrimSuffix(s.config.BaseURL, "/"))
	req, err := http.NewRequestWithContext(reqCtx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.config.APIKey))

	s.logger.WithFields(logrus.Fields{
		"model":   s.config.Model,
		"attempt": attempt,
	}).Debug("Sending completion request")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.WithFields(logrus.Fields{
			"status":  resp.StatusCode,
			"body":    string(body),
			"attempt": attempt,
		}).Error("Provider request failed")

		err := fmt.Errorf("provider returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, &clientError{err: err}
		}
		return nil, err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Error.Message != "" {
		return nil, fmt.Errorf("provider error: %s", result.Error.Message)
	}

	answer := ""
	if len(result.Choices) > 0 {
		answer = strings.TrimSpace(result.Choices[0].Message.Content)
	}
	if answer == "" {
		// A missing answer body is substituted, not failed
		s.logger.Warn("Provider returned no usable answer, using fallback")
		answer = fallbackAnswer
	}

	tokens := result.Usage.TotalTokens
	if tokens <= 0 {
		// Rough approximation when the provider omits usage
		tokens = len(answer) / 4
	}

	return &models.Completion{Answer: answer, TokensUsed: tokens}, nil
}
