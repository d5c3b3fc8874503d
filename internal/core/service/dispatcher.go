package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SnakeO/gps-catcher/internal/core/model"
	"github.com/SnakeO/gps-catcher/internal/core/repository"
)

const maxResponseBody = 4096

type DispatcherConfig struct {
	BatchSize   int
	MaxAttempts int
	Timeout     time.Duration
	// ClaimLease is how long a claimed alert may stay unresolved before
	// another pass takes it over.
	ClaimLease time.Duration
}

type DispatchResult struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// WebhookPayload is the JSON body posted for every alert.
type WebhookPayload struct {
	ESN        string            `json:"esn"`
	State      model.FenceStatus `json:"state"`
	GeofenceID int64             `json:"geofence_id"`
	Lat        float64           `json:"lat"`
	Lng        float64           `json:"lng"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// AlertDispatcher delivers pending fence alerts to their webhooks.
type AlertDispatcher struct {
	alerts repository.FenceAlertRepository
	client *http.Client
	logger logrus.FieldLogger
	cfg    DispatcherConfig
	now    func() time.Time
}

func NewAlertDispatcher(alerts repository.FenceAlertRepository, client *http.Client, logger logrus.FieldLogger, cfg DispatcherConfig) *AlertDispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 10 * time.Minute
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &AlertDispatcher{
		alerts: alerts,
		client: client,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// DispatchPending claims one batch of pending alerts, plus claims left behind
// by a dispatcher that died or could not record the outcome, and posts each of them.
func (d *AlertDispatcher) DispatchPending(ctx context.Context) (DispatchResult, error) {
	var result DispatchResult

	deliveries, err := d.alerts.ClaimPending(ctx, d.cfg.BatchSize, d.cfg.MaxAttempts, d.now().Add(-d.cfg.ClaimLease))
	if err != nil {
		return result, fmt.Errorf("claim alerts: %w", err)
	}

	for _, delivery := range deliveries {
		if d.deliver(ctx, delivery) {
			result.Delivered++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

// DispatchOne delivers a single alert if it is still pending. It reports
// whether the webhook accepted it.
func (d *AlertDispatcher) DispatchOne(ctx context.Context, id int64) (bool, error) {
	delivery, err := d.alerts.Claim(ctx, id)
	if err != nil {
		return false, fmt.Errorf("claim alert %d: %w", id, err)
	}
	if delivery == nil {
		return false, nil
	}
	return d.deliver(ctx, *delivery), nil
}

func (d *AlertDispatcher) deliver(ctx context.Context, delivery model.AlertDelivery) bool {
	alert := delivery.Alert
	log := d.logger.WithFields(logrus.Fields{
		"alert_id":    alert.ID,
		"geofence_id": alert.GeofenceID,
		"webhook_url": alert.WebhookURL,
	})

	code, body, err := d.post(ctx, alert.WebhookURL, WebhookPayload{
		ESN:        delivery.ESN,
		State:      delivery.State,
		GeofenceID: alert.GeofenceID,
		Lat:        delivery.Latitude,
		Lng:        delivery.Longitude,
		OccurredAt: delivery.OccurredAt.UTC(),
	})
	if err == nil && (code < 200 || code > 299) {
		err = fmt.Errorf("webhook responded %d", code)
	}

	if err != nil {
		log.WithError(err).Warn("Alert delivery failed")
		if merr := d.alerts.MarkFailed(ctx, alert.ID, code, body, "ERROR handling: "+err.Error()); merr != nil {
			log.WithError(merr).Error("Failed to record alert failure")
		}
		return false
	}

	if merr := d.alerts.MarkDelivered(ctx, alert.ID, code, body, d.now().UTC()); merr != nil {
		log.WithError(merr).Error("Failed to record alert delivery")
		return false
	}
	log.WithField("response_code", code).Info("Alert delivered")
	return true
}

func (d *AlertDispatcher) post(ctx context.Context, url string, payload WebhookPayload) (int, string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}
