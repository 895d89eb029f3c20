package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultWebhookTimeout = 30 * time.Second

	// maxErrorBodySize caps how much of an error response body is read.
	maxErrorBodySize = 1024
)

// WebhookProvider posts alert payloads as JSON to an HTTP endpoint.
type WebhookProvider struct {
	name    string
	enabled bool
	url     string
	headers map[string]string
	tiers   map[string]bool
	client  *http.Client
}

// NewWebhookProvider creates a webhook channel for the given endpoint.
func NewWebhookProvider(name string, enabled bool, endpoint string, headers map[string]string, tiers []string, timeout time.Duration) *WebhookProvider {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	wp := &WebhookProvider{
		name:    strings.TrimSpace(name),
		enabled: enabled,
		url:     endpoint,
		headers: headers,
		tiers:   make(map[string]bool),
		client:  &http.Client{Timeout: timeout},
	}
	if wp.name == "" {
		wp.name = "webhook"
	}
	for _, t := range tiers {
		wp.tiers[t] = true
	}
	return wp
}

func (w *WebhookProvider) GetName() string { return w.name }
func (w *WebhookProvider) IsEnabled() bool { return w.enabled }

func (w *WebhookProvider) SupportsTier(tier string) bool {
	if len(w.tiers) == 0 {
		return true
	}
	return w.tiers[tier]
}

// ValidateConfig checks the endpoint URL.
func (w *WebhookProvider) ValidateConfig() error {
	if !w.enabled {
		return nil
	}
	parsed, err := url.Parse(w.url)
	if err != nil {
		return fmt.Errorf("provider %s: invalid webhook URL: %w", w.name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("provider %s: webhook URL must be http or https", w.name)
	}
	return nil
}

// webhookPayload is the JSON body posted to the endpoint.
type webhookPayload struct {
	AlertID    string    `json:"alert_id"`
	CameraID   string    `json:"camera_id"`
	Tier       string    `json:"tier"`
	Confidence float64   `json:"confidence"`
	Title      string    `json:"title,omitempty"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// Send posts the alert. Response classes map to retry behavior: 2xx is
// delivered, 429 is throttled, remaining 4xx are permanent, everything
// else is transient.
func (w *WebhookProvider) Send(ctx context.Context, msg *AlertMessage) (SendResult, error) {
	payload, err := json.Marshal(webhookPayload{
		AlertID:    msg.AlertID,
		CameraID:   msg.CameraID,
		Tier:       msg.Tier,
		Confidence: msg.Confidence,
		Title:      msg.Title,
		Message:    msg.Body,
		CreatedAt:  msg.CreatedAt,
	})
	if err != nil {
		return PermanentFailure, fmt.Errorf("provider %s: failed to marshal payload: %w", w.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return PermanentFailure, fmt.Errorf("provider %s: failed to build request: %w", w.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return TransientFailure, fmt.Errorf("provider %s: request failed: %w", w.name, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Delivered, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return Throttled, fmt.Errorf("provider %s: throttled by endpoint (429)", w.name)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return PermanentFailure, fmt.Errorf("provider %s: endpoint rejected request (%d): %s", w.name, resp.StatusCode, string(body))
	default:
		return TransientFailure, fmt.Errorf("provider %s: endpoint returned %d", w.name, resp.StatusCode)
	}
}
