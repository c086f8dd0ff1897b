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
	readingsIngested metric.Int64Counter
	readingQueries   metric.Int64Counter
	storageErrors    metric.Int64Counter
	batchSize        metric.Int64Histogram
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
		name = "micoriza"
	}
	meter := provider.Meter(name)

	readingsIngested, err := meter.Int64Counter("micoriza_readings_ingested_total",
		metric.WithDescription("Readings persisted by ingest source."))
	if err != nil {
		return nil, err
	}
	readingQueries, err := meter.Int64Counter("micoriza_reading_queries_total",
		metric.WithDescription("Reading queries by grouping mode."))
	if err != nil {
		return nil, err
	}
	storageErrors, err := meter.Int64Counter("micoriza_storage_errors_total",
		metric.WithDescription("Storage failures by low-cardinality reason."))
	if err != nil {
		return nil, err
	}
	batchSize, err := meter.Int64Histogram("micoriza_reading_batch_size",
		metric.WithDescription("Readings per accepted write request."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		readingsIngested: readingsIngested,
		readingQueries:   readingQueries,
		storageErrors:    storageErrors,
		batchSize:        batchSize,
	}, nil
}

// RecordReadingsIngested adds n stored readings for the given source.
func (m *Metrics) RecordReadingsIngested(ctx context.Context, source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.readingsIngested.Add(ctx, int64(n), metric.WithAttributes(attrs...))
	m.batchSize.Record(ctx, int64(n), metric.WithAttributes(attrs...))
}

// RecordReadingQuery increments query counts.
func (m *Metrics) RecordReadingQuery(ctx context.Context, groupBy string) {
	if m == nil {
		return
	}
	if strings.TrimSpace(groupBy) == "" {
		groupBy = "none"
	}
	attrs := FilterAttributes(attribute.String("group_by", groupBy))
	m.readingQueries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStorageError increments storage failure counts.
func (m *Metrics) RecordStorageError(ctx context.Context, op string, err error) {
	if m == nil || err == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(op)),
		attribute.String("reason", ClassifyStorageError(err)),
	)
	m.storageErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"source":      {},
	"group_by":    {},
	"operation":   {},
	"reason":      {},
	"endpoint":    {},
	"status_code": {},
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
