package aging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// IntentKind says what a deletion intent removes.
type IntentKind string

const (
	// IntentJob removes a single expired job from a copy.
	IntentJob IntentKind = "job"

	// IntentCopy removes a whole copy whose jobs have all expired.
	IntentCopy IntentKind = "copy"
)

// Intent is a request to the physical deletion collaborator. The engine
// records the deletion only after the collaborator confirms it.
type Intent struct {
	ID       string     `json:"intent_id"`
	Kind     IntentKind `json:"kind"`
	PlanID   string     `json:"plan_id"`
	CopyID   string     `json:"copy_id"`
	JobID    string     `json:"job_id,omitempty"`
	IssuedAt time.Time  `json:"issued_at"`
	SweepID  string     `json:"sweep_id,omitempty"`
}

// key identifies the target of an intent; at most one intent per key is in
// flight.
func (i Intent) key() string {
	if i.Kind == IntentCopy {
		return "copy/" + i.CopyID
	}
	return "job/" + i.CopyID + "/" + i.JobID
}

// Outcome is the collaborator's report for one intent. A nil Err means the
// data is gone.
type Outcome struct {
	Intent      Intent
	Err         error
	CompletedAt time.Time
}

// Deleter is the physical deletion collaborator.
//
// Submit hands over an intent. If it returns nil, report must be called
// exactly once, possibly from another goroutine, when the collaborator
// knows the result. If it returns an error, report is never called.
type Deleter interface {
	Submit(ctx context.Context, intent Intent, report func(Outcome)) error
}

// LogDeleter confirms every intent after logging it. It performs no
// deletion and is meant for dry runs.
type LogDeleter struct {
	logger *slog.Logger
}

// NewLogDeleter creates a LogDeleter.
func NewLogDeleter() *LogDeleter {
	return &LogDeleter{logger: slog.Default().With("component", "aging.deleter")}
}

// Submit logs the intent and reports success.
func (d *LogDeleter) Submit(ctx context.Context, intent Intent, report func(Outcome)) error {
	d.logger.InfoContext(ctx, "deletion intent",
		"intent_id", intent.ID,
		"kind", intent.Kind,
		"copy_id", intent.CopyID,
		"job_id", intent.JobID,
	)
	report(Outcome{Intent: intent, CompletedAt: time.Now()})
	return nil
}

// WebhookConfig configures a WebhookDeleter.
type WebhookConfig struct {
	// URL receives a POST with the intent as JSON.
	URL string

	// Timeout bounds each delivery. Default: 30s
	Timeout time.Duration

	// Token, when set, is sent as "Authorization: Bearer <token>".
	Token string

	// Client is used for delivery. Default: an http.Client with Timeout.
	Client *http.Client
}

// WebhookDeleter delivers intents to an HTTP endpoint. A 2xx response
// confirms the deletion; anything else is a failure that the next sweep
// retries.
type WebhookDeleter struct {
	url     string
	token   string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewWebhookDeleter creates a WebhookDeleter.
func NewWebhookDeleter(cfg WebhookConfig) (*WebhookDeleter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook deleter requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WebhookDeleter{
		url:     cfg.URL,
		token:   cfg.Token,
		timeout: cfg.Timeout,
		client:  client,
		logger:  slog.Default().With("component", "aging.webhook"),
	}, nil
}

// Submit delivers the intent in the background and reports the response.
func (d *WebhookDeleter) Submit(ctx context.Context, intent Intent, report func(Outcome)) error {
	body, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to encode intent %s: %w", intent.ID, err)
	}

	// Delivery outlives the sweep that issued it.
	ctx = context.WithoutCancel(ctx)
	go func() {
		err := d.deliver(ctx, intent.ID, body)
		if err != nil {
			d.logger.Warn("webhook delivery failed", "intent_id", intent.ID, "error", err)
		}
		report(Outcome{Intent: intent, Err: err, CompletedAt: time.Now()})
	}()
	return nil
}

func (d *WebhookDeleter) deliver(ctx context.Context, intentID string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", intentID)
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
