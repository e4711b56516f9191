package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	reconciliations metric.Int64Counter
	ledgerEntries   metric.Int64Counter
	webhookEvents   metric.Int64Counter
	balanceDrift    metric.Int64Counter
	accountSyncs    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "reviewloop-billing"
	}
	meter := provider.Meter(name)

	reconciliations, err := meter.Int64Counter("billing_reconciliations_total")
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("billing_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("billing_webhook_events_total")
	if err != nil {
		return nil, err
	}
	balanceDrift, err := meter.Int64Counter("billing_balance_drift_total")
	if err != nil {
		return nil, err
	}
	accountSyncs, err := meter.Int64Counter("billing_account_syncs_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		reconciliations: reconciliations,
		ledgerEntries:   ledgerEntries,
		webhookEvents:   webhookEvents,
		balanceDrift:    balanceDrift,
		accountSyncs:    accountSyncs,
	}, nil
}

func (m *Metrics) RecordReconciliation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordLedgerEntry(ctx context.Context, transactionType string) {
	if m == nil {
		return
	}
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("transaction_type", transactionType)))
}

func (m *Metrics) RecordWebhookEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *Metrics) RecordBalanceDrift(ctx context.Context) {
	if m == nil {
		return
	}
	m.balanceDrift.Add(ctx, 1)
}

func (m *Metrics) RecordAccountSync(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.accountSyncs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported metrics exporter protocol %q", protocol)
	}
}
