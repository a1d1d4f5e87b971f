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
	readingsAccepted metric.Int64Counter
	readingsRejected metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	billsGenerated   metric.Int64Counter
	billedNetUnits   metric.Float64Histogram
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
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "netmetering"
	}
	meter := provider.Meter(name)

	readingsAccepted, err := meter.Int64Counter("netmetering_readings_accepted_total")
	if err != nil {
		return nil, err
	}
	readingsRejected, err := meter.Int64Counter("netmetering_readings_rejected_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("netmetering_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("netmetering_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	billsGenerated, err := meter.Int64Counter("netmetering_bills_generated_total")
	if err != nil {
		return nil, err
	}
	billedNetUnits, err := meter.Float64Histogram("netmetering_billed_net_units_kwh")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		readingsAccepted: readingsAccepted,
		readingsRejected: readingsRejected,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
		billsGenerated:   billsGenerated,
		billedNetUnits:   billedNetUnits,
	}, nil
}

// RecordReadingAccepted counts a reading persisted from a device.
func (m *Metrics) RecordReadingAccepted(ctx context.Context, applicationID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("application_id", strings.TrimSpace(applicationID)))
	m.readingsAccepted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReadingRejected counts an ingestion rejection by reason.
func (m *Metrics) RecordReadingRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.readingsRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("backend", strings.TrimSpace(backend)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("backend", strings.TrimSpace(backend)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBillGenerated counts one invoice and bill pair and observes its billed units.
func (m *Metrics) RecordBillGenerated(ctx context.Context, direction string, netUnits float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("direction", direction))...)
	m.billsGenerated.Add(ctx, 1, attrs)
	m.billedNetUnits.Record(ctx, netUnits, attrs)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
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

// Device ids and customer ids are deliberately absent.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"application_id": {},
	"backend":        {},
	"reason":         {},
	"direction":      {},
	"status_code":    {},
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
