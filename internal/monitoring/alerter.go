package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flowgate/internal/config"
	"github.com/sells-group/flowgate/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertBlockRate         AlertType = "block_rate"
	AlertQueueDepth        AlertType = "backfill_queue_depth"
	AlertExhaustedBackfill AlertType = "backfill_exhausted"
	AlertBreakerOpen       AlertType = "breaker_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg      config.MonitoringConfig
	client   *http.Client
	retryCfg resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = 2
	retryCfg.InitialBackoff = 250 * time.Millisecond
	retryCfg.OnRetry = resilience.RetryLogger("webhook", "send_alert")
	return &Alerter{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		retryCfg: retryCfg,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.BlockRateThreshold > 0 && snap.BlockRate > a.cfg.BlockRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertBlockRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Block rate %s exceeds threshold %s in last %dh",
				blockRatePercent(snap.BlockRate), blockRatePercent(a.cfg.BlockRateThreshold),
				snap.LookbackHours,
			),
			Details: map[string]any{
				"block_rate": snap.BlockRate,
				"threshold":  a.cfg.BlockRateThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.QueueDepthThreshold > 0 && snap.QueueDepth > a.cfg.QueueDepthThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertQueueDepth,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Backfill queue depth %d exceeds threshold %d",
				snap.QueueDepth, a.cfg.QueueDepthThreshold,
			),
			Details: map[string]any{
				"depth":     snap.QueueDepth,
				"threshold": a.cfg.QueueDepthThreshold,
			},
			Timestamp: now,
		})
	}

	if snap.ExhaustedBackfill > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertExhaustedBackfill,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d backfill request(s) exhausted their attempt budget in last %dh",
				snap.ExhaustedBackfill, snap.LookbackHours,
			),
			Details: map[string]any{
				"exhausted": snap.ExhaustedBackfill,
			},
			Timestamp: now,
		})
	}

	if len(snap.OpenBreakers) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Severity: "high",
			Message: fmt.Sprintf(
				"Circuit open for: %s",
				strings.Join(snap.OpenBreakers, ", "),
			),
			Details: map[string]any{
				"processors": snap.OpenBreakers,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
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

// sendWebhook posts a single alert to the webhook URL, retrying transient
// failures.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	return resilience.Do(ctx, a.retryCfg, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "monitoring: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return resilience.NewTransientError(
				eris.Wrap(err, "monitoring: webhook request"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(
				eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode), resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}
