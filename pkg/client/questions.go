package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/voceo/voceo/pkg/errorsx"
	"github.com/voceo/voceo/pkg/logging"
	"github.com/voceo/voceo/pkg/resilience"
)

// FallbackClient fetches canned follow-up questions over HTTP when the
// realtime path is unavailable. Transient failures retry; repeated rate
// limits open the circuit breaker.
type FallbackClient struct {
	url     string
	httpc   *http.Client
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

func NewFallbackClient(url string) *FallbackClient {
	return &FallbackClient{
		url:     url,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		retry:   resilience.NewRetryPolicy(2, 200*time.Millisecond),
		breaker: resilience.NewCircuitBreaker(3, 30*time.Second),
		logger:  logging.NewComponentLogger(slog.Default(), "fallback_client"),
	}
}

type fallbackRequest struct {
	Text string `json:"text"`
}

type fallbackResponse struct {
	Question string `json:"question"`
}

// NextQuestion posts the candidate's answer and returns the next question.
func (c *FallbackClient) NextQuestion(ctx context.Context, text string) (string, error) {
	if !c.breaker.Allow() {
		return "", errorsx.Wrap(resilience.RateLimitError{Provider: "fallback", Message: "circuit open"}, errorsx.ReasonFallbackRateLimit)
	}
	body, err := json.Marshal(fallbackRequest{Text: text})
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonFallbackRequest)
	}

	var question string
	err = c.retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			return resilience.RateLimitError{Provider: "fallback"}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fallback status %d", resp.StatusCode)
		}
		var out fallbackResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		question = out.Question
		return nil
	})
	if err != nil {
		c.breaker.OnError(err)
		c.logger.Warn("fallback_request_failed", slog.String("error", err.Error()))
		return "", errorsx.Wrap(err, errorsx.ReasonFallbackRequest)
	}
	c.breaker.OnSuccess()
	return question, nil
}
