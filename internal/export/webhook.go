// Package export pushes published metrics to external consumers. Currently
// a single webhook sink; the batching layer is sink-agnostic.
package export

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/goldbtc-metrics/internal/model"
)

// Config holds configuration for the metrics exporter
type Config struct {
	Enabled        bool          `json:"enabled"`
	BatchSize      int           `json:"batch_size"`
	ExportInterval time.Duration `json:"export_interval"`

	WebhookURL    string `json:"webhook_url"`
	WebhookAPIKey string `json:"webhook_api_key,omitempty"`
}

// Exporter batches published metrics and flushes them to the configured
// webhook, either when the batch fills up or on the export interval.
type Exporter struct {
	config     Config
	httpClient *http.Client

	mu         sync.RWMutex
	batch      []*model.DerivedMetrics
	lastExport time.Time

	cancel context.CancelFunc
}

// New creates a metrics exporter. When disabled, Add is a no-op.
func New(config Config) *Exporter {
	e := &Exporter{config: config}
	if !config.Enabled {
		return e
	}

	if e.config.ExportInterval <= 0 {
		e.config.ExportInterval = time.Minute
	}
	if e.config.BatchSize <= 0 {
		e.config.BatchSize = 20
	}

	e.httpClient = &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			IdleConnTimeout: 90 * time.Second,
		},
	}
	e.batch = make([]*model.DerivedMetrics, 0, e.config.BatchSize)

	var ctx context.Context
	ctx, e.cancel = context.WithCancel(context.Background())
	go e.periodicExport(ctx)

	logrus.Info("Metrics webhook exporter initialized")
	return e
}

// Add queues a published metrics set for export. Suitable as a poller
// update hook.
func (e *Exporter) Add(metrics *model.DerivedMetrics) {
	if !e.config.Enabled || metrics == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.batch = append(e.batch, metrics)
	if len(e.batch) >= e.config.BatchSize {
		go e.flush()
	}
}

// periodicExport flushes on the export interval until cancellation
func (e *Exporter) periodicExport(ctx context.Context) {
	ticker := time.NewTicker(e.config.ExportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.flush()
		case <-ctx.Done():
			return
		}
	}
}

// flush sends the current batch to the webhook
func (e *Exporter) flush() {
	e.mu.Lock()
	if len(e.batch) == 0 {
		e.mu.Unlock()
		return
	}
	batch := e.batch
	e.batch = make([]*model.DerivedMetrics, 0, e.config.BatchSize)
	e.lastExport = time.Now()
	e.mu.Unlock()

	if err := e.send(batch); err != nil {
		logrus.Errorf("Failed to export metrics batch: %v", err)
		return
	}
	logrus.Debugf("Exported %d metrics sets to webhook", len(batch))
}

func (e *Exporter) send(batch []*model.DerivedMetrics) error {
	if e.config.WebhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	exportData := struct {
		Metrics    []*model.DerivedMetrics `json:"metrics"`
		ExportTime string                  `json:"export_time"`
		Count      int                     `json:"count"`
	}{
		Metrics:    batch,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(batch),
	}

	jsonData, err := json.Marshal(exportData)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	req, err := http.NewRequest("POST", e.config.WebhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if e.config.WebhookAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.WebhookAPIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}

	return nil
}

// Stop cancels the periodic export and flushes the remaining batch
func (e *Exporter) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.flush()
}

// Status reports the exporter's current state for the status endpoint
func (e *Exporter) Status() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := map[string]interface{}{
		"enabled":         e.config.Enabled,
		"batch_size":      e.config.BatchSize,
		"export_interval": e.config.ExportInterval.String(),
		"current_batch":   len(e.batch),
	}
	if !e.lastExport.IsZero() {
		status["last_export"] = e.lastExport.Format(time.RFC3339)
	}
	return status
}
