package preload

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"preloadcounts/internal/dbexec"
	"preloadcounts/internal/planner"
)

// Load executes query and returns the loaded rows. Each row carries every
// selected count under its alias.
func Load(ctx context.Context, q dbexec.Querier, query planner.Query) ([]dbexec.Row, error) {
	ctx, span := startSpan(ctx, "preload.load",
		attribute.String("db.sql.table", query.Table()),
		attribute.String("preload.aliases", strings.Join(query.Aliases(), ",")),
	)
	defer span.End()

	stmt, err := query.ToSQL()
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("render preload query for %s: %w", query.Table(), err)
	}

	rows, err := dbexec.Fetch(ctx, q, stmt.SQL, stmt.Args...)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("load %s: %w", query.Table(), err)
	}
	span.SetAttributes(attribute.Int("preload.rows", len(rows)))
	return rows, nil
}

// Load executes query for this entity and records its shape in the metrics.
func (c *Counts) Load(ctx context.Context, q dbexec.Querier, query planner.Query) ([]dbexec.Row, error) {
	rows, err := Load(ctx, q, query)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordLoad(ctx, c.entity.Name, len(query.Aliases()), len(rows))
	return rows, nil
}

// Query applies the named relationships' operations to a base query of the
// entity, in the order given.
func (c *Counts) Query(relationships ...string) (planner.Query, error) {
	q := planner.BaseQuery(c.entity)
	for _, rel := range relationships {
		op, ok := c.OperationFor(rel)
		if !ok {
			return planner.Query{}, fmt.Errorf("%s: no preload counts declared for %s", c.entity.Name, rel)
		}
		q = op.Apply(q)
	}
	return q, nil
}
