package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/chime/internal/observability"
)

const (
	idempotencyHeader = "X-Idempotency-Key"
	requestTimeout    = 10 * time.Second
	maxAttempts       = 4 // first try + 3 retries
	baseBackoff       = 1 * time.Second
)

type Client struct {
	http *http.Client
	prom *observability.Prom
	log  *slog.Logger

	// sleep is swapped out by tests so the backoff schedule can be
	// asserted without waiting it out.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(prom *observability.Prom, log *slog.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: requestTimeout},
		prom: prom,
		log:  log,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// Deliver POSTs the payload with the idempotency header and retries
// transient conditions (transport errors, timeouts, 429, 5xx) with
// 1s/2s/4s backoff. Non-429 4xx fails permanently on the spot.
func (c *Client) Deliver(ctx context.Context, url string, payload map[string]any, idempotencyKey string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			// 1s, 2s, 4s
			delay := baseBackoff << (attempt - 2)
			if err := c.sleep(ctx, delay); err != nil {
				return &InfrastructureError{Attempts: attempt - 1, Cause: err}
			}
		}

		err := c.post(ctx, url, body, idempotencyKey)

		if err == nil {
			c.countAttempt("ok")
			return nil
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			c.countAttempt("permanent")
			return perm
		}

		c.countAttempt("transient")
		lastErr = err

		if c.log != nil {
			c.log.Warn("webhook.attempt_failed",
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"idempotency_key", idempotencyKey,
				"err", err,
			)
		}
	}

	return &InfrastructureError{Attempts: maxAttempts, Cause: lastErr}
}

func (c *Client) post(ctx context.Context, url string, body []byte, idempotencyKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyHeader, idempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook transport: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook throttled: status 429")
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &PermanentError{StatusCode: resp.StatusCode}
	default:
		return fmt.Errorf("webhook server error: status %d", resp.StatusCode)
	}
}

func (c *Client) countAttempt(outcome string) {
	if c.prom != nil {
		c.prom.WebhookAttempts.WithLabelValues(outcome).Inc()
	}
}
