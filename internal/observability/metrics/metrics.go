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
	usageIngest      metric.Int64Counter
	usageDropped     metric.Int64Counter
	catalogImported  metric.Int64Counter
	catalogUpdated   metric.Int64Counter
	catalogFailed    metric.Int64Counter
	walletDebits     metric.Int64Counter
	suspensions      metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	jobDuration      metric.Float64Histogram
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
		name = "gatemeter"
	}
	meter := provider.Meter(name)

	usageIngest, err := meter.Int64Counter("gatemeter_usage_ingest_total")
	if err != nil {
		return nil, err
	}
	usageDropped, err := meter.Int64Counter("gatemeter_usage_dropped_total")
	if err != nil {
		return nil, err
	}
	catalogImported, err := meter.Int64Counter("gatemeter_catalog_imported_total")
	if err != nil {
		return nil, err
	}
	catalogUpdated, err := meter.Int64Counter("gatemeter_catalog_updated_total")
	if err != nil {
		return nil, err
	}
	catalogFailed, err := meter.Int64Counter("gatemeter_catalog_failed_total")
	if err != nil {
		return nil, err
	}
	walletDebits, err := meter.Int64Counter("gatemeter_wallet_debits_total")
	if err != nil {
		return nil, err
	}
	suspensions, err := meter.Int64Counter("gatemeter_consumer_suspensions_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("gatemeter_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("gatemeter_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	jobDuration, err := meter.Float64Histogram("gatemeter_job_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		usageIngest:      usageIngest,
		usageDropped:     usageDropped,
		catalogImported:  catalogImported,
		catalogUpdated:   catalogUpdated,
		catalogFailed:    catalogFailed,
		walletDebits:     walletDebits,
		suspensions:      suspensions,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
		jobDuration:      jobDuration,
	}, nil
}

// RecordUsageIngest increments accepted usage event counts.
func (m *Metrics) RecordUsageIngest(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("tenant_id", strings.TrimSpace(tenantID)))
	m.usageIngest.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsageDropped increments dropped usage event counts.
func (m *Metrics) RecordUsageDropped(ctx context.Context, tenantID, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("tenant_id", strings.TrimSpace(tenantID)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.usageDropped.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCatalogSync records the outcome of one catalog apply pass.
func (m *Metrics) RecordCatalogSync(ctx context.Context, tenantID string, imported, updated, failed int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("tenant_id", strings.TrimSpace(tenantID)))
	opts := metric.WithAttributes(attrs...)
	if imported > 0 {
		m.catalogImported.Add(ctx, int64(imported), opts)
	}
	if updated > 0 {
		m.catalogUpdated.Add(ctx, int64(updated), opts)
	}
	if failed > 0 {
		m.catalogFailed.Add(ctx, int64(failed), opts)
	}
}

// RecordWalletDebit increments wallet debit counts.
func (m *Metrics) RecordWalletDebit(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("tenant_id", strings.TrimSpace(tenantID)))
	m.walletDebits.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSuspension increments consumer suspension counts.
func (m *Metrics) RecordSuspension(ctx context.Context, tenantID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("tenant_id", strings.TrimSpace(tenantID)))
	m.suspensions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, tenantID, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("tenant_id", strings.TrimSpace(tenantID)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, tenantID, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("tenant_id", strings.TrimSpace(tenantID)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordJobRun records the duration and outcome of one scheduler job run.
func (m *Metrics) RecordJobRun(ctx context.Context, job string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	attrs := FilterAttributes(
		attribute.String("job", strings.TrimSpace(job)),
		attribute.String("status", status),
	)
	m.jobDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
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
	"tenant_id": {},
	"endpoint":  {},
	"reason":    {},
	"job":       {},
	"status":    {},
	"kind":      {},
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
