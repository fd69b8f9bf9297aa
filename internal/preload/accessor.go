package preload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/attribute"

	"preloadcounts/internal/dbexec"
	"preloadcounts/internal/model"
	"preloadcounts/internal/observability"
	"preloadcounts/internal/planner"
)

// Accessor reads one count for a loaded parent row.
type Accessor struct {
	name       string
	spec       CountSpec
	descriptor model.Descriptor
	predicates []sq.Sqlizer
	column     planner.CountColumn
	counts     *Counts
}

// Name is the accessor name, which is also the preloaded column alias.
func (a *Accessor) Name() string {
	return a.name
}

// Spec returns the count the accessor reads.
func (a *Accessor) Spec() CountSpec {
	return a.spec
}

// Read returns the count for row. A value preloaded under the accessor's alias
// is returned without touching the database; otherwise the related rows are
// fetched through q and counted.
func (a *Accessor) Read(ctx context.Context, q dbexec.Querier, row dbexec.Row) (int64, error) {
	if v, ok := row[a.name]; ok && v != nil {
		if b, isBytes := v.([]byte); isBytes {
			v = string(b)
		}
		n, err := cast.ToInt64E(v)
		if err != nil {
			return 0, fmt.Errorf("%s.%s: preloaded value %v is not an integer: %w", a.counts.entity.Name, a.name, v, err)
		}
		a.counts.metrics.RecordAccessorRead(ctx, a.counts.entity.Name, a.name, observability.ReadPathPreloaded)
		return n, nil
	}
	return a.fallback(ctx, q, row)
}

func (a *Accessor) fallback(ctx context.Context, q dbexec.Querier, row dbexec.Row) (int64, error) {
	entity := a.counts.entity
	pk, ok := row[entity.PrimaryKey]
	if !ok || pk == nil {
		return 0, fmt.Errorf("%s.%s: row has no %s: %w", entity.Name, a.name, entity.PrimaryKey, model.ErrMissingPrimaryKey)
	}
	if q == nil {
		return 0, fmt.Errorf("%s.%s: count was not preloaded and no querier was given", entity.Name, a.name)
	}

	ctx, span := startSpan(ctx, "preload.fallback",
		attribute.String("preload.entity", entity.Name),
		attribute.String("preload.accessor", a.name),
		attribute.String("preload.relationship", a.spec.Relationship),
	)
	defer span.End()

	query, err := planner.PlanRelationRows(a.descriptor, pk, a.predicates)
	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}

	start := time.Now()
	rows, err := dbexec.Fetch(ctx, q, query.SQL, query.Args...)
	elapsed := time.Since(start)
	a.counts.metrics.RecordFallback(ctx, entity.Name, a.spec.Relationship, elapsed, err != nil)
	if err != nil {
		recordSpanError(span, err)
		return 0, fmt.Errorf("%s.%s: fallback count query failed: %w", entity.Name, a.name, err)
	}

	count := int64(len(rows))
	span.SetAttributes(attribute.Int64("preload.count", count))
	a.counts.metrics.RecordAccessorRead(ctx, entity.Name, a.name, observability.ReadPathFallback)
	a.counts.logger.Debug("count not preloaded, counted related rows",
		slog.String("accessor", a.name),
		slog.Any("id", pk),
		slog.Int64("count", count),
		slog.Duration("duration", elapsed),
	)
	return count, nil
}

// Read reads the named accessor for row.
func (c *Counts) Read(ctx context.Context, q dbexec.Querier, row dbexec.Row, accessor string) (int64, error) {
	acc, ok := c.Accessor(accessor)
	if !ok {
		return 0, fmt.Errorf("%s has no count accessor %s", c.entity.Name, accessor)
	}
	return acc.Read(ctx, q, row)
}
