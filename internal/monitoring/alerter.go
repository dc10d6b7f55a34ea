package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate    AlertType = "failure_rate"
	AlertNewCompetitor     AlertType = "NEW_COMPETITOR"
	AlertCompetitorRemoved AlertType = "COMPETITOR_REMOVED"
	AlertMajorUpdate       AlertType = "MAJOR_UPDATE"
)

// minFinishedRuns is the sample size below which the failure rate is noise.
const minFinishedRuns = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	ProjectID string         `json:"project_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

var nowUTC = func() time.Time { return time.Now().UTC() }

// Alerter evaluates a HealthSnapshot against configured thresholds
// and delivers alerts to the configured webhooks.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *HealthSnapshot) []Alert {
	var alerts []Alert

	finished := snap.Finished()
	if a.cfg.FailureRateThreshold > 0 && finished >= minFinishedRuns && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: SeverityHigh,
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d errored / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Errored, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"errored":      snap.Errored,
				"finished":     finished,
			},
			Timestamp: nowUTC(),
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook and Slack URLs.
// Returns the number of alerts that reached at least one channel.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if (a.cfg.WebhookURL == "" && a.cfg.SlackWebhookURL == "") || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		delivered := false
		if a.cfg.WebhookURL != "" {
			if err := a.post(ctx, a.cfg.WebhookURL, alert); err != nil {
				zap.L().Error("monitoring: failed to send alert",
					zap.String("type", string(alert.Type)),
					zap.Error(err),
				)
			} else {
				delivered = true
			}
		}
		if a.cfg.SlackWebhookURL != "" {
			if err := a.post(ctx, a.cfg.SlackWebhookURL, slackMessage(alert)); err != nil {
				zap.L().Error("monitoring: failed to send slack alert",
					zap.String("type", string(alert.Type)),
					zap.Error(err),
				)
			} else {
				delivered = true
			}
		}
		if !delivered {
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

type slackPayload struct {
	Text string `json:"text"`
}

func slackMessage(alert Alert) slackPayload {
	return slackPayload{Text: fmt.Sprintf("[%s] %s: %s", alert.Severity, alert.Type, alert.Message)}
}

// post sends one JSON payload to url.
func (a *Alerter) post(ctx context.Context, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
