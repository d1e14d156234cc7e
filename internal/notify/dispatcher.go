// Package notify delivers rendered alert messages to webhook endpoints.
// Delivery failures are recorded per webhook and never bleed into the
// evaluation outcome.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"datasync-backend/internal/metrics"
	"datasync-backend/internal/rules"
)

// Outcome records one webhook's delivery result for the alert event audit
// trail.
type Outcome struct {
	WebhookID string `json:"webhook_id"`
	Delivered bool   `json:"delivered"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
}

type payload struct {
	RuleName  string `json:"rule_name"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type Dispatcher struct {
	HTTP     *http.Client
	Attempts int
	Backoff  time.Duration
	Logger   *slog.Logger
	now      func() time.Time
}

func NewDispatcher(timeout time.Duration, attempts int, backoff time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		HTTP:     &http.Client{Timeout: timeout},
		Attempts: attempts,
		Backoff:  backoff,
		Logger:   logger,
		now:      time.Now,
	}
}

// Dispatch posts the message to every webhook. Transient failures (network
// errors, 5xx) are retried with exponential backoff up to the configured
// attempt budget; 4xx responses are permanent and not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, ruleName string, webhooks []rules.Webhook, severity rules.Severity, message string) []Outcome {
	outcomes := make([]Outcome, 0, len(webhooks))
	for _, hook := range webhooks {
		outcomes = append(outcomes, d.send(ctx, ruleName, hook, severity, message))
	}
	return outcomes
}

func (d *Dispatcher) send(ctx context.Context, ruleName string, hook rules.Webhook, severity rules.Severity, message string) Outcome {
	body, _ := json.Marshal(payload{
		RuleName:  ruleName,
		Severity:  string(severity),
		Message:   message,
		Timestamp: d.now().UTC().Format(time.RFC3339),
	})
	outcome := Outcome{WebhookID: hook.ID}
	var lastErr error
	for attempt := 1; attempt <= d.Attempts; attempt++ {
		outcome.Attempts = attempt
		permanent, err := d.post(ctx, hook, body)
		if err == nil {
			outcome.Delivered = true
			metrics.DispatchAttemptsTotal.WithLabelValues("sent").Inc()
			return outcome
		}
		lastErr = err
		if permanent {
			break
		}
		metrics.DispatchAttemptsTotal.WithLabelValues("retried").Inc()
		if attempt < d.Attempts {
			select {
			case <-time.After(d.Backoff * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				attempt = d.Attempts
			}
		}
	}
	outcome.Error = lastErr.Error()
	metrics.DispatchAttemptsTotal.WithLabelValues("failed").Inc()
	d.Logger.Warn("webhook delivery failed",
		slog.String("webhook_id", hook.ID),
		slog.Int("attempts", outcome.Attempts),
		slog.String("error", outcome.Error),
	)
	return outcome
}

// post returns (permanent, err). 4xx responses are permanent failures;
// network errors and 5xx responses are transient.
func (d *Dispatcher) post(ctx context.Context, hook rules.Webhook, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return true, err
	}
	req.Header.Set("Content-Type", "application/json")
	if hook.Secret != "" {
		req.Header.Set("X-Webhook-Token", hook.Secret)
	}
	res, err := d.HTTP.Do(req)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode >= 500 {
		return false, fmt.Errorf("webhook status %d: %s", res.StatusCode, string(snippet))
	}
	if res.StatusCode >= 300 {
		return true, fmt.Errorf("webhook status %d: %s", res.StatusCode, string(snippet))
	}
	return false, nil
}
