package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Casescan-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string `json:"type"` // e.g. "batch.completed"
	JobID     string `json:"job_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// Client delivers webhook events, retrying failed attempts with backoff.
type Client struct {
	http *resty.Client
}

// New creates a Client. retries is the number of extra attempts after the
// first one fails; timeout bounds each attempt.
func New(timeout time.Duration, retries int) *Client {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(30*time.Second).
		SetHeader("User-Agent", "Casescan-Webhook/1.0").
		AddRetryCondition(func(res *resty.Response, err error) bool {
			return err != nil || res.StatusCode() >= 500 || res.StatusCode() == 429
		})
	return &Client{http: client}
}

// Sign returns the signature header value of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends a webhook event synchronously.
// The request body is signed with HMAC-SHA256 if secret is non-empty.
func (c *Client) Deliver(ctx context.Context, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if secret != "" {
		req.SetHeader(SignatureHeader, Sign(secret, body))
	}

	res, err := req.Post(url)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("webhook: endpoint returned status %d", res.StatusCode())
	}
	return nil
}

// DeliverAsync sends event in the background and logs the outcome.
func (c *Client) DeliverAsync(url, secret string, event *Event) {
	go func() {
		err := c.Deliver(context.Background(), url, secret, event)
		if err != nil {
			slog.Error("webhook delivery failed",
				"url", url,
				"event", event.Type,
				"job_id", event.JobID,
				"error", err,
			)
			return
		}
		slog.Info("webhook delivered",
			"url", url,
			"event", event.Type,
			"job_id", event.JobID,
		)
	}()
}
