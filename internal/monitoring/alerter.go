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

	"github.com/sells-group/geoenrich/internal/config"
	"github.com/sells-group/geoenrich/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailed         AlertType = "run_failed"
	AlertRowErrorRate      AlertType = "row_error_rate"
	AlertLowCoordinateRate AlertType = "low_coordinate_rate"
	AlertRunFailureRate    AlertType = "run_failure_rate"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	RunID     string         `json:"run_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RunReport describes a finished enrichment run.
type RunReport struct {
	RunID  string
	Source string
	Stats  model.StatsSnapshot
	Err    error
}

// Alerter evaluates finished runs and windowed snapshots against configured
// thresholds and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// EvaluateRun checks one run's statistics and returns any alerts. Rate
// alerts need at least MinRows processed rows.
func (a *Alerter) EvaluateRun(r RunReport) []Alert {
	var alerts []Alert
	now := a.now()

	if r.Err != nil {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailed,
			Severity: "high",
			RunID:    r.RunID,
			Message:  fmt.Sprintf("Enrichment of %s failed after %d rows: %v", r.Source, r.Stats.ProcessedRows, r.Err),
			Details: map[string]any{
				"source":    r.Source,
				"processed": r.Stats.ProcessedRows,
				"total":     r.Stats.TotalRows,
			},
			Timestamp: now,
		})
	}

	if r.Stats.ProcessedRows < a.cfg.MinRows || r.Stats.ProcessedRows == 0 {
		return alerts
	}

	if rate := r.Stats.ErrorRate(); a.cfg.ErrorRateThreshold > 0 && rate > a.cfg.ErrorRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRowErrorRate,
			Severity: "high",
			RunID:    r.RunID,
			Message: fmt.Sprintf(
				"Row error rate %.1f%% exceeds threshold %.1f%% (%d errors / %d rows in %s)",
				rate*100, a.cfg.ErrorRateThreshold*100,
				len(r.Stats.Errors), r.Stats.ProcessedRows, r.Source,
			),
			Details: map[string]any{
				"error_rate": rate,
				"threshold":  a.cfg.ErrorRateThreshold,
				"errors":     len(r.Stats.Errors),
				"processed":  r.Stats.ProcessedRows,
			},
			Timestamp: now,
		})
	}

	if rate := r.Stats.CoordinateRate(); a.cfg.MinCoordinateRate > 0 && rate < a.cfg.MinCoordinateRate {
		alerts = append(alerts, Alert{
			Type:     AlertLowCoordinateRate,
			Severity: "medium",
			RunID:    r.RunID,
			Message: fmt.Sprintf(
				"Coordinate rate %.1f%% is below %.1f%% (%d / %d rows in %s)",
				rate*100, a.cfg.MinCoordinateRate*100,
				r.Stats.FoundCoordinates, r.Stats.ProcessedRows, r.Source,
			),
			Details: map[string]any{
				"coordinate_rate": rate,
				"minimum":         a.cfg.MinCoordinateRate,
				"found":           r.Stats.FoundCoordinates,
				"processed":       r.Stats.ProcessedRows,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Evaluate checks a windowed snapshot and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert

	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= 5 && a.cfg.FailureRateThreshold > 0 && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: a.now(),
		})
	}

	return alerts
}

// NotifyRun evaluates a finished run and sends the resulting alerts.
// Returns the number of alerts successfully sent.
func (a *Alerter) NotifyRun(ctx context.Context, r RunReport) int {
	return a.SendAlerts(ctx, a.EvaluateRun(r))
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

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
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
