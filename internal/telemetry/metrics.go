package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// InitMeterProvider initializes the Prometheus exporter and MeterProvider.
// It returns an http.Handler for the /metrics endpoint and a shutdown function.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)

	mp := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	return promhttp.Handler(), mp.Shutdown, nil
}

// SettlementMetrics counts the money-moving outcomes the service cares about
// operationally: how orders resolve and what the webhook ingress is doing.
type SettlementMetrics struct {
	OrdersSettled otelmetric.Int64Counter
	OrdersFailed  otelmetric.Int64Counter
	WebhookEvents otelmetric.Int64Counter
	TopupsOpened  otelmetric.Int64Counter
}

func NewSettlementMetrics() (*SettlementMetrics, error) {
	meter := otel.Meter("settlement")

	ordersSettled, err := meter.Int64Counter("settlement.orders.settled",
		otelmetric.WithDescription("Orders transitioned to PAID"))
	if err != nil {
		return nil, err
	}
	ordersFailed, err := meter.Int64Counter("settlement.orders.failed",
		otelmetric.WithDescription("Orders transitioned to FAILED"))
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("settlement.webhook.events",
		otelmetric.WithDescription("Gateway webhook deliveries by outcome"))
	if err != nil {
		return nil, err
	}
	topupsOpened, err := meter.Int64Counter("settlement.topups.opened",
		otelmetric.WithDescription("Wallet top-ups initiated"))
	if err != nil {
		return nil, err
	}

	return &SettlementMetrics{
		OrdersSettled: ordersSettled,
		OrdersFailed:  ordersFailed,
		WebhookEvents: webhookEvents,
		TopupsOpened:  topupsOpened,
	}, nil
}

// WebhookOutcome is the attribute set recorded per webhook delivery.
func WebhookOutcome(outcome string) otelmetric.AddOption {
	return otelmetric.WithAttributes(attribute.String("outcome", outcome))
}
