package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the service's OpenTelemetry instruments. The meter provider
// reads into the Prometheus exporter; cmd/server exposes /metrics via
// promhttp against the default registry.
type Metrics struct {
	provider *metric.MeterProvider

	requestCounter    api.Int64Counter
	durationHistogram api.Float64Histogram

	ordersFulfilled  api.Int64Counter
	ordersFailed     api.Int64Counter
	itemsClaimed     api.Int64Counter
	webhookDelivered api.Int64Counter
	webhookFailed    api.Int64Counter
}

// NewMetrics sets up the Prometheus exporter, the meter provider and all
// instruments
func NewMetrics(serviceName string) (*Metrics, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter(serviceName)

	m := &Metrics{provider: provider}

	if m.requestCounter, err = meter.Int64Counter(
		"http_requests_total",
		api.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	if m.durationHistogram, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		api.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	if m.ordersFulfilled, err = meter.Int64Counter(
		"orders_fulfilled_total",
		api.WithDescription("Total number of orders fulfilled"),
	); err != nil {
		return nil, fmt.Errorf("failed to create fulfilled counter: %w", err)
	}

	if m.ordersFailed, err = meter.Int64Counter(
		"orders_fulfillment_failed_total",
		api.WithDescription("Total number of fulfillment failures"),
	); err != nil {
		return nil, fmt.Errorf("failed to create failed counter: %w", err)
	}

	if m.itemsClaimed, err = meter.Int64Counter(
		"inventory_items_claimed_total",
		api.WithDescription("Total number of inventory items claimed"),
	); err != nil {
		return nil, fmt.Errorf("failed to create claimed counter: %w", err)
	}

	if m.webhookDelivered, err = meter.Int64Counter(
		"webhook_deliveries_total",
		api.WithDescription("Total number of successful webhook deliveries"),
	); err != nil {
		return nil, fmt.Errorf("failed to create webhook delivery counter: %w", err)
	}

	if m.webhookFailed, err = meter.Int64Counter(
		"webhook_delivery_failures_total",
		api.WithDescription("Total number of exhausted webhook deliveries"),
	); err != nil {
		return nil, fmt.Errorf("failed to create webhook failure counter: %w", err)
	}

	slog.Info("Telemetry instruments initialized", "service", serviceName)
	return m, nil
}

// RecordRequest records one handled HTTP request
func (m *Metrics) RecordRequest(method, route string, statusCode int, durationSeconds float64) {
	attrs := api.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status_code", statusCode),
	)
	ctx := context.Background()
	m.requestCounter.Add(ctx, 1, attrs)
	m.durationHistogram.Record(ctx, durationSeconds, attrs)
}

// RecordFulfillment records a fulfillment outcome
func (m *Metrics) RecordFulfillment(success bool) {
	if success {
		m.ordersFulfilled.Add(context.Background(), 1)
	} else {
		m.ordersFailed.Add(context.Background(), 1)
	}
}

// RecordItemsClaimed records how many inventory items a claim consumed
func (m *Metrics) RecordItemsClaimed(count int) {
	m.itemsClaimed.Add(context.Background(), int64(count))
}

// RecordWebhookDelivery records a final webhook delivery outcome
func (m *Metrics) RecordWebhookDelivery(event string, success bool) {
	attrs := api.WithAttributes(attribute.String("event", event))
	if success {
		m.webhookDelivered.Add(context.Background(), 1, attrs)
	} else {
		m.webhookFailed.Add(context.Background(), 1, attrs)
	}
}

// Close flushes pending metric data
func (m *Metrics) Close(ctx context.Context) {
	if m.provider != nil {
		if err := m.provider.ForceFlush(ctx); err != nil {
			slog.Error("Failed to flush metrics", "error", err)
		}
	}
}
