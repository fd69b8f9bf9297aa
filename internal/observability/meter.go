package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MeterProvider wraps an OpenTelemetry meter provider backed by a manual
// reader, so a short-lived command can collect its own metrics on exit.
type MeterProvider struct {
	provider *metric.MeterProvider
	reader   *metric.ManualReader
}

// MetricSummary is one collected data point stream.
type MetricSummary struct {
	Name       string
	Attributes string
	Count      uint64
	Sum        float64
}

// InitMeterProvider initializes metrics collection and installs the provider globally.
func InitMeterProvider(cfg Config) (*MeterProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(reader),
	)
	otel.SetMeterProvider(provider)

	return &MeterProvider{provider: provider, reader: reader}, nil
}

// Meter returns a named meter from the provider.
func (mp *MeterProvider) Meter(name string) otelmetric.Meter {
	return mp.provider.Meter(name)
}

// Collect reads the current value of every instrument.
func (mp *MeterProvider) Collect(ctx context.Context) ([]MetricSummary, error) {
	var rm metricdata.ResourceMetrics
	if err := mp.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("failed to collect metrics: %w", err)
	}
	return summarize(rm), nil
}

// LogSummary logs every collected data point at info level.
func (mp *MeterProvider) LogSummary(ctx context.Context, logger *slog.Logger) {
	summaries, err := mp.Collect(ctx)
	if err != nil {
		logger.Warn("metrics summary unavailable", slog.String("error", err.Error()))
		return
	}
	for _, s := range summaries {
		logger.Info("metric",
			slog.String("name", s.Name),
			slog.String("attributes", s.Attributes),
			slog.Uint64("count", s.Count),
			slog.Float64("sum", s.Sum),
		)
	}
}

// Shutdown stops the meter provider.
func (mp *MeterProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := mp.provider.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown meter provider", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func summarize(rm metricdata.ResourceMetrics) []MetricSummary {
	var out []MetricSummary
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, MetricSummary{Name: m.Name, Attributes: encodeAttrs(dp.Attributes), Count: uint64(dp.Value), Sum: float64(dp.Value)})
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, MetricSummary{Name: m.Name, Attributes: encodeAttrs(dp.Attributes), Count: 1, Sum: dp.Value})
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, MetricSummary{Name: m.Name, Attributes: encodeAttrs(dp.Attributes), Count: dp.Count, Sum: float64(dp.Sum)})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, MetricSummary{Name: m.Name, Attributes: encodeAttrs(dp.Attributes), Count: dp.Count, Sum: dp.Sum})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Attributes < out[j].Attributes
	})
	return out
}

func encodeAttrs(set attribute.Set) string {
	return set.Encoded(attribute.DefaultEncoder())
}
