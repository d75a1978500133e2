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

	"github.com/sells-group/hunter-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate    AlertType = "run_failure_rate"
	AlertErrorCount        AlertType = "error_count"
	AlertEnrichCacheMisses AlertType = "enrich_cache_misses"
)

// Below this many enrichment candidates the cache-hit rate is noise.
const cacheHitRateMinCandidates = 50

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
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check run failure rate. Fewer than 5 finished runs is too small a
	// sample to alert on.
	finished := snap.RunsCompleted + snap.RunsWithErrors + snap.RunsFailed
	if finished >= 5 && snap.RunFailRate > a.cfg.FailureRateThreshold {
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
			Timestamp: now,
		})
	}

	// Check accumulated step errors across the window.
	if a.cfg.ErrorCountThreshold > 0 && snap.ErrorsTotal > a.cfg.ErrorCountThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertErrorCount,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d step errors exceed threshold %d in last %dh",
				snap.ErrorsTotal, a.cfg.ErrorCountThreshold, snap.LookbackHours,
			),
			Details: map[string]any{
				"errors":     snap.ErrorsTotal,
				"threshold":  a.cfg.ErrorCountThreshold,
				"runs_total": snap.RunsTotal,
			},
			Timestamp: now,
		})
	}

	// A vault that stops hitting means overlapping searches are paying
	// full enrichment cost again, usually after a TTL misconfiguration
	// or a vault wipe.
	if a.cfg.CacheHitRateFloor > 0 &&
		snap.EnrichCandidates >= cacheHitRateMinCandidates &&
		snap.EnrichCacheHitRate < a.cfg.CacheHitRateFloor {
		alerts = append(alerts, Alert{
			Type:     AlertEnrichCacheMisses,
			Severity: "low",
			Message: fmt.Sprintf(
				"Enrichment cache-hit rate %.1f%% fell below floor %.1f%% (%d hits / %d candidates in last %dh)",
				snap.EnrichCacheHitRate*100, a.cfg.CacheHitRateFloor*100,
				snap.EnrichCacheHits, snap.EnrichCandidates, snap.LookbackHours,
			),
			Details: map[string]any{
				"cache_hit_rate": snap.EnrichCacheHitRate,
				"floor":          a.cfg.CacheHitRateFloor,
				"cache_hits":     snap.EnrichCacheHits,
				"candidates":     snap.EnrichCandidates,
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
