package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Notification is a message for project stakeholders.
type Notification struct {
	ProjectID string `json:"project_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	To        string `json:"to,omitempty"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, n Notification) error {
	zap.L().Info("notification",
		zap.String("project_id", n.ProjectID),
		zap.String("run_id", n.RunID),
		zap.String("to", n.To),
		zap.String("subject", n.Subject),
	)
	return nil
}

// WebhookNotifier posts notifications as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return eris.Wrap(err, "scheduler: marshal notification")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "scheduler: create notification request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "scheduler: notification request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("scheduler: notification webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailNotification turns EMAIL_NOTIFICATION tasks into notifications.
// Task data keys: to, subject, body.
type EmailNotification struct {
	Notifier Notifier
}

// Handle implements TaskHandler.
func (e *EmailNotification) Handle(ctx context.Context, t Task) error {
	n := Notification{
		ProjectID: t.ProjectID,
		RunID:     t.RunID,
		To:        t.Data["to"],
		Subject:   t.Data["subject"],
		Body:      t.Data["body"],
	}
	if n.Subject == "" {
		n.Subject = "Competitive intelligence update"
	}
	if err := e.Notifier.Notify(ctx, n); err != nil {
		return eris.Wrapf(err, "scheduler: notify %s", t.ID)
	}
	return nil
}
