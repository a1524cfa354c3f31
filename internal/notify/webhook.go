package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/acme/whatsapp-reply-pipeline/pkg/logger"
)

// Notifier delivers best-effort event notifications to business-configured
// URLs. Failures are logged, never retried, and never block the pipeline.
type Notifier struct {
	client  *http.Client
	timeout time.Duration
	logger  *logger.Logger
}

// NewNotifier constructs a webhook notifier.
func NewNotifier(timeout time.Duration, lg *logger.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  lg,
	}
}

// Notify fires the POST in the background and returns immediately. An empty
// URL is a no-op.
func (n *Notifier) Notify(url string, payload any) {
	if url == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn("webhook notify: marshal payload", zap.Error(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			n.logger.Warn("webhook notify: build request", zap.String("url", url), zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			n.logger.Warn("webhook notify: post failed", zap.String("url", url), zap.Error(err))
			return
		}
		resp.Body.Close()

		if resp.StatusCode >= 300 {
			n.logger.Warn("webhook notify: non-success status", zap.String("url", url), zap.Int("status", resp.StatusCode))
		}
	}()
}
