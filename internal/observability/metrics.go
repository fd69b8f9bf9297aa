package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Accessor read paths.
const (
	ReadPathPreloaded = "preloaded"
	ReadPathFallback  = "fallback"
)

// PreloadMetrics holds the instruments recorded by count preloading. A nil
// *PreloadMetrics records nothing.
type PreloadMetrics struct {
	accessorReads    metric.Int64Counter
	fallbackDuration metric.Float64Histogram
	queryColumns     metric.Int64Histogram
	loadedRows       metric.Int64Histogram
}

// InitPreloadMetrics creates the instruments on the global meter provider.
func InitPreloadMetrics() (*PreloadMetrics, error) {
	return NewPreloadMetrics(otel.Meter("preloadcounts"))
}

// NewPreloadMetrics creates the instruments on meter.
func NewPreloadMetrics(meter metric.Meter) (*PreloadMetrics, error) {
	accessorReads, err := meter.Int64Counter(
		"preload.accessor.reads",
		metric.WithDescription("Count accessor reads by path (preloaded or fallback)"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create accessor reads counter: %w", err)
	}

	fallbackDuration, err := meter.Float64Histogram(
		"preload.fallback.duration",
		metric.WithDescription("Duration of fallback relation queries in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback duration histogram: %w", err)
	}

	queryColumns, err := meter.Int64Histogram(
		"preload.query.columns",
		metric.WithDescription("Number of count columns selected by a preload query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query columns histogram: %w", err)
	}

	loadedRows, err := meter.Int64Histogram(
		"preload.query.rows",
		metric.WithDescription("Number of parent rows loaded by a preload query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create loaded rows histogram: %w", err)
	}

	return &PreloadMetrics{
		accessorReads:    accessorReads,
		fallbackDuration: fallbackDuration,
		queryColumns:     queryColumns,
		loadedRows:       loadedRows,
	}, nil
}

// RecordAccessorRead counts one accessor read on the given path.
func (m *PreloadMetrics) RecordAccessorRead(ctx context.Context, entity, accessor, path string) {
	if m == nil {
		return
	}
	m.accessorReads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("accessor", accessor),
		attribute.String("path", path),
	))
}

// RecordFallback records the duration of one fallback relation query.
func (m *PreloadMetrics) RecordFallback(ctx context.Context, entity, relationship string, duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.fallbackDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("relationship", relationship),
		attribute.Bool("has_errors", failed),
	))
}

// RecordLoad records the shape of one executed preload query.
func (m *PreloadMetrics) RecordLoad(ctx context.Context, entity string, columns, rows int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("entity", entity))
	m.queryColumns.Record(ctx, int64(columns), attrs)
	m.loadedRows.Record(ctx, int64(rows), attrs)
}
