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
	allocations     metric.Int64Counter
	ledgerEntries   metric.Int64Counter
	checkpoints     metric.Int64Counter
	checkpointMiss  metric.Int64Counter
	presenceOps     metric.Int64Counter
	wsConnections   metric.Int64UpDownCounter
	wsBroadcasts    metric.Int64Counter
	exportsEnqueued metric.Int64Counter
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

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "coda"
	}
	meter := provider.Meter(name)

	allocations, err := meter.Int64Counter("coda_allocations_total")
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("coda_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	checkpoints, err := meter.Int64Counter("coda_cycle_checkpoints_total")
	if err != nil {
		return nil, err
	}
	checkpointMiss, err := meter.Int64Counter("coda_checkpoint_mismatch_total")
	if err != nil {
		return nil, err
	}
	presenceOps, err := meter.Int64Counter("coda_presence_ops_total")
	if err != nil {
		return nil, err
	}
	wsConnections, err := meter.Int64UpDownCounter("coda_ws_connections")
	if err != nil {
		return nil, err
	}
	wsBroadcasts, err := meter.Int64Counter("coda_ws_broadcasts_total")
	if err != nil {
		return nil, err
	}
	exportsEnqueued, err := meter.Int64Counter("coda_exports_enqueued_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		allocations:     allocations,
		ledgerEntries:   ledgerEntries,
		checkpoints:     checkpoints,
		checkpointMiss:  checkpointMiss,
		presenceOps:     presenceOps,
		wsConnections:   wsConnections,
		wsBroadcasts:    wsBroadcasts,
		exportsEnqueued: exportsEnqueued,
	}, nil
}

// RecordAllocation increments allocation counts.
func (m *Metrics) RecordAllocation(ctx context.Context, currency string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("currency", strings.TrimSpace(currency)))
	m.allocations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerEntries increments journal entry counts.
func (m *Metrics) RecordLedgerEntries(ctx context.Context, direction string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("direction", strings.TrimSpace(direction)))
	m.ledgerEntries.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordCheckpoint increments closed cycle checkpoint counts.
func (m *Metrics) RecordCheckpoint(ctx context.Context, currency string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("currency", strings.TrimSpace(currency)))
	m.checkpoints.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCheckpointMismatch increments checkpoint verification failures.
func (m *Metrics) RecordCheckpointMismatch(ctx context.Context) {
	if m == nil {
		return
	}
	m.checkpointMiss.Add(ctx, 1)
}

// RecordPresenceOp increments presence store operation counts.
func (m *Metrics) RecordPresenceOp(ctx context.Context, op string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	attrs := FilterAttributes(
		attribute.String("op", strings.TrimSpace(op)),
		attribute.String("outcome", outcome),
	)
	m.presenceOps.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConnectionOpened increments the live websocket connection gauge.
func (m *Metrics) RecordConnectionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.wsConnections.Add(ctx, 1)
}

// RecordConnectionClosed decrements the live websocket connection gauge.
func (m *Metrics) RecordConnectionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.wsConnections.Add(ctx, -1)
}

// RecordBroadcast increments room broadcast counts.
func (m *Metrics) RecordBroadcast(ctx context.Context, messageType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("message_type", strings.TrimSpace(messageType)))
	m.wsBroadcasts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordExportEnqueued increments export job counts.
func (m *Metrics) RecordExportEnqueued(ctx context.Context, format string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("format", strings.TrimSpace(format)))
	m.exportsEnqueued.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"currency":     {},
	"direction":    {},
	"op":           {},
	"outcome":      {},
	"message_type": {},
	"format":       {},
	"status_code":  {},
	"endpoint":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
