package webhooks

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"giftcard-fulfillment-api/internal/models"
	"giftcard-fulfillment-api/internal/storage"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const responseBodyLogLimit = 512

// DeliveryMetrics records webhook delivery outcomes
type DeliveryMetrics interface {
	RecordWebhookDelivery(event string, success bool)
}

// DispatcherConfig holds delivery tuning knobs
type DispatcherConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

// Dispatcher reliably notifies registered endpoints of domain events. Each
// Trigger call returns immediately; the delivery-plus-retry sequence for
// every matching endpoint runs in its own goroutine. One endpoint's failure
// never affects another's delivery or accounting.
type Dispatcher struct {
	store      storage.Store
	attemptLog *AttemptLog
	client     *resty.Client
	config     DispatcherConfig
	metrics    DeliveryMetrics
	wg         sync.WaitGroup
}

// NewDispatcher creates a webhook dispatcher. metrics may be nil.
func NewDispatcher(store storage.Store, attemptLog *AttemptLog, config DispatcherConfig, metrics DeliveryMetrics) *Dispatcher {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	client := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "giftcard-fulfillment-api/1.0")

	return &Dispatcher{
		store:      store,
		attemptLog: attemptLog,
		client:     client,
		config:     config,
		metrics:    metrics,
	}
}

// Trigger dispatches event to every enabled endpoint of the company
// subscribed to it. Fire-and-forget: lookup and payload construction happen
// synchronously, delivery does not block the caller.
func (d *Dispatcher) Trigger(companyID, event string, data interface{}) {
	endpoints, err := d.store.ListEndpointsForEvent(companyID, event)
	if err != nil {
		slog.Error("Failed to look up webhook endpoints",
			"company_id", companyID,
			"event", event,
			"error", err)
		return
	}
	if len(endpoints) == 0 {
		slog.Debug("No webhook endpoints subscribed", "company_id", companyID, "event", event)
		return
	}

	payload := models.WebhookPayload{
		ID:        "evt_" + uuid.New().String(),
		Event:     event,
		CreatedAt: time.Now().Unix(),
		Data:      data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal webhook payload",
			"event", event,
			"payload_id", payload.ID,
			"error", err)
		return
	}

	slog.Info("Triggering webhooks",
		"company_id", companyID,
		"event", event,
		"payload_id", payload.ID,
		"endpoint_count", len(endpoints))

	for _, endpoint := range endpoints {
		ep := endpoint
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliverWithRetry(ep, payload.ID, event, body)
		}()
	}
}

// DeliverNow delivers a payload to one endpoint synchronously, including
// retries. Used by the manual webhook test endpoint; returns whether the
// delivery ultimately succeeded.
func (d *Dispatcher) DeliverNow(endpoint models.WebhookEndpoint, event string, data interface{}) (bool, error) {
	payload := models.WebhookPayload{
		ID:        "evt_" + uuid.New().String(),
		Event:     event,
		CreatedAt: time.Now().Unix(),
		Data:      data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	return d.deliverWithRetry(endpoint, payload.ID, event, body), nil
}

// Close waits for all in-flight deliveries to finish
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

// deliverWithRetry runs the attempt/backoff loop for one endpoint. Every
// attempt is appended to the attempt log; endpoint counters are bumped once
// per delivery on the final outcome.
func (d *Dispatcher) deliverWithRetry(endpoint models.WebhookEndpoint, payloadID, event string, body []byte) bool {
	signature := Sign(endpoint.Secret, body)
	backoff := d.config.BackoffBase

	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		start := time.Now()
		resp, err := d.client.R().
			SetHeader("X-Webhook-Signature", signature).
			SetHeader("X-Webhook-Event", event).
			SetHeader("X-Webhook-Id", payloadID).
			SetBody(body).
			Post(endpoint.URL)
		duration := time.Since(start)

		success := err == nil && resp.StatusCode() >= 200 && resp.StatusCode() < 300

		record := models.DeliveryAttempt{
			EndpointID: endpoint.ID,
			CompanyID:  endpoint.CompanyID,
			Event:      event,
			PayloadID:  payloadID,
			URL:        endpoint.URL,
			Attempt:    attempt,
			DurationMs: duration.Milliseconds(),
			Success:    success,
		}

		var reason string
		if err != nil {
			reason = err.Error()
			record.Error = reason
		} else {
			record.StatusCode = resp.StatusCode()
			record.ResponseBody = truncate(resp.String(), responseBodyLogLimit)
			if !success {
				reason = fmt.Sprintf("endpoint returned status %d", resp.StatusCode())
				record.Error = reason
			}
		}

		if !success && attempt < d.config.MaxAttempts {
			nextRetry := time.Now().UTC().Add(backoff)
			record.NextRetryAt = &nextRetry
		}

		d.attemptLog.Append(record)

		if success {
			if storeErr := d.store.RecordEndpointSuccess(endpoint.ID, time.Now().UTC()); storeErr != nil {
				slog.Error("Failed to record webhook success",
					"endpoint_id", endpoint.ID,
					"error", storeErr)
			}
			if d.metrics != nil {
				d.metrics.RecordWebhookDelivery(event, true)
			}
			slog.Info("Webhook delivered",
				"endpoint_id", endpoint.ID,
				"event", event,
				"payload_id", payloadID,
				"attempt", attempt,
				"status", resp.StatusCode(),
				"duration", duration.String())
			return true
		}

		slog.Warn("Webhook delivery attempt failed",
			"endpoint_id", endpoint.ID,
			"event", event,
			"payload_id", payloadID,
			"attempt", attempt,
			"max_attempts", d.config.MaxAttempts,
			"reason", reason)

		if attempt < d.config.MaxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		} else {
			if storeErr := d.store.RecordEndpointFailure(endpoint.ID, time.Now().UTC(), reason); storeErr != nil {
				slog.Error("Failed to record webhook failure",
					"endpoint_id", endpoint.ID,
					"error", storeErr)
			}
			if d.metrics != nil {
				d.metrics.RecordWebhookDelivery(event, false)
			}
		}
	}

	return false
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
