package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultWebhookTimeout = 10 * time.Second

// LogTransport writes messages to the logger instead of delivering them.
type LogTransport struct {
	Logger *zap.Logger
}

func (t LogTransport) Send(_ context.Context, msg Message) error {
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("notification",
		zap.String("record_id", msg.RecordID),
		zap.String("destination", msg.Destination),
		zap.String("mode", msg.Mode),
		zap.Int("threshold_hours", msg.Threshold),
		zap.String("body", msg.Body))
	return nil
}

// WebhookTransport POSTs each message as JSON.
type WebhookTransport struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Client  *http.Client
}

func (t WebhookTransport) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(t.URL) == "" {
		return fmt.Errorf("webhook url is required")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	client := t.Client
	if client == nil {
		timeout := t.Timeout
		if timeout <= 0 {
			timeout = defaultWebhookTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Plazos-Event", "alert")
	req.Header.Set("X-Plazos-Record", msg.RecordID)
	if strings.TrimSpace(t.Secret) != "" {
		req.Header.Set("X-Plazos-Signature", Sign(t.Secret, data))
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
