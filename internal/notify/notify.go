// Package notify delivers signed job-completion notifications to a
// configured endpoint. Delivery is fire-and-forget relative to the
// worker; failures are logged and never surface to job processing.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/leftbrainit/supasaasy/internal/models"
)

const maxAttempts = 3

// JobNotification is the payload POSTed when a job reaches a terminal
// state.
type JobNotification struct {
	JobID         string              `json:"job_id"`
	AppKey        string              `json:"app_key"`
	Mode          models.SyncMode     `json:"mode"`
	Status        models.SyncStatus   `json:"status"`
	Counters      models.SyncCounters `json:"counters"`
	ErrorMessages []string            `json:"error_messages,omitempty"`
	FinishedAt    time.Time           `json:"finished_at"`
}

// Notifier signs and delivers job notifications.
type Notifier struct {
	url    string
	wh     *svix.Webhook
	client *http.Client
	logger *slog.Logger
}

// New creates a notifier. Returns nil when url is empty, which callers
// treat as notifications disabled. The secret must be a svix-style
// base64 signing secret (whsec_ prefix accepted).
func New(url, secret string, logger *slog.Logger) (*Notifier, error) {
	if url == "" {
		return nil, nil
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to init notification signer: %w", err)
	}
	return &Notifier{
		url:    url,
		wh:     wh,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}, nil
}

// JobFinished delivers a notification for a terminal job without
// blocking the caller.
func (n *Notifier) JobFinished(job *models.SyncJob) {
	if n == nil {
		return
	}
	finished := time.Now().UTC()
	if job.FinishedAt != nil {
		finished = *job.FinishedAt
	}
	note := JobNotification{
		JobID:         job.ID,
		AppKey:        job.AppKey,
		Mode:          job.Mode,
		Status:        job.Status,
		Counters:      job.Counters,
		ErrorMessages: job.ErrorMessages,
		FinishedAt:    finished,
	}
	go func() {
		if err := n.deliver(note); err != nil {
			n.logger.Error("notify: delivery failed after retries", "job_id", job.ID, "url", n.url, "error", err)
		}
	}()
}

func (n *Notifier) deliver(note JobNotification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msgID := "msg_" + ulid.Make().String()
	timestamp := time.Now().UTC()
	signature, err := n.wh.Sign(msgID, timestamp, body)
	if err != nil {
		return fmt.Errorf("failed to sign notification: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt*attempt) * time.Second)
		}

		req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Supasaasy-Notify/1.0")
		req.Header.Set("webhook-id", msgID)
		req.Header.Set("webhook-timestamp", fmt.Sprintf("%d", timestamp.Unix()))
		req.Header.Set("webhook-signature", signature)

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			n.logger.Warn("notify: delivery failed", "url", n.url, "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			n.logger.Info("notify: delivered", "url", n.url, "status", resp.StatusCode)
			return nil
		}
		lastErr = fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
		n.logger.Warn("notify: non-success status", "url", n.url, "status", resp.StatusCode, "attempt", attempt+1)
	}
	return lastErr
}
