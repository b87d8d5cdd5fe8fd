package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/crossfusion/swapd/internal/core/ports"
)

const webhookTimeout = 10 * time.Second

type webhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink posts each notification as a JSON body to the given URL.
func NewWebhookSink(url string) ports.NotificationSink {
	return &webhookSink{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

func (s *webhookSink) Publish(ctx context.Context, n ports.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to serialize notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	log.WithFields(log.Fields{
		"event": n.Event,
		"swap":  n.Swap.ID,
	}).Debug("delivered webhook notification")
	return nil
}

func (s *webhookSink) Close() {
	s.client.CloseIdleConnections()
}
