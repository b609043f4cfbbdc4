package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/apex-timing/internal/config"
	"github.com/yourusername/apex-timing/internal/metrics"
)

// WebhookNotifier posts accepted-reading updates to a downstream system
// (scoreboards, TV graphics). Delivery is fire-and-forget: retries happen
// inside the HTTP client, failures are counted and logged, never surfaced
// to ingestion.
type WebhookNotifier struct {
	client    *retryablehttp.Client
	url       string
	authToken string
	logger    *logrus.Logger
}

// NewWebhookNotifier creates a webhook sink. authToken may be empty.
func NewWebhookNotifier(cfg config.NotifyConfig, authToken string, logger *logrus.Logger) *WebhookNotifier {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Timeout = 10 * time.Second
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = log.New(io.Discard, "", 0)

	return &WebhookNotifier{
		client:    retryClient,
		url:       cfg.WebhookURL,
		authToken: authToken,
		logger:    logger,
	}
}

// Publish implements ingest.Notifier.
func (n *WebhookNotifier) Publish(stageID uuid.UUID, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.WithError(err).Warn("webhook payload marshal failed")
		return
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.WithError(err).Warn("webhook request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Stage-ID", stageID.String())
	if n.authToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", n.authToken))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		metrics.NotificationsDroppedTotal.Inc()
		n.logger.WithError(err).WithField("stage_id", stageID).Warn("webhook delivery failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		metrics.NotificationsDroppedTotal.Inc()
		n.logger.WithFields(logrus.Fields{
			"stage_id": stageID,
			"status":   resp.StatusCode,
		}).Warn("webhook rejected update")
	}
}
