package cliapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"preloadcounts/internal/dbexec"
	"preloadcounts/internal/planner"
	"preloadcounts/internal/preload"
	"preloadcounts/internal/sqlutil"
)

// RunOptions selects what one invocation loads.
type RunOptions struct {
	// Entity is the model to load.
	Entity string
	// Relationships lists the relationships whose counts are preloaded. Empty
	// selects every relationship with declared counts.
	Relationships []string
	// Limit caps the loaded rows; 0 loads all of them.
	Limit uint64
	// Explain prints the query instead of running it.
	Explain bool
	Out     io.Writer
}

// Run explains or executes one preload query and writes the result to opts.Out.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	a.stateMu.Lock()
	initialized := a.initialized
	cat := a.catalog
	executor := a.executor
	a.stateMu.Unlock()

	if !initialized || cat == nil {
		return fmt.Errorf("app is not initialized")
	}
	if opts.Out == nil {
		return fmt.Errorf("output writer is required")
	}

	counts, ok := cat.Counts(opts.Entity)
	if !ok {
		return fmt.Errorf("model %q declares no preloaded counts (available: %s)",
			opts.Entity, strings.Join(cat.Entities(), ", "))
	}

	relationships := opts.Relationships
	if len(relationships) == 0 {
		for _, op := range counts.Operations() {
			relationships = append(relationships, op.Relationship())
		}
	}

	q, err := counts.Query(relationships...)
	if err != nil {
		return err
	}
	if opts.Limit > 0 {
		q = q.OrderBy(sqlutil.QualifiedColumn(q.Table(), q.PrimaryKey())).Limit(opts.Limit)
	}

	if opts.Explain {
		stmt, err := q.ToSQL()
		if err != nil {
			return err
		}
		return explain(opts.Out, counts, relationships, q.Aliases(), stmt)
	}

	if executor == nil {
		return fmt.Errorf("executing a preload query requires a database connection")
	}

	rows, err := counts.Load(ctx, executor, q)
	if err != nil {
		return err
	}
	a.logger.Debug("loaded rows",
		slog.String("entity", opts.Entity),
		slog.Int("rows", len(rows)),
		slog.Any("aliases", q.Aliases()),
	)

	enc := json.NewEncoder(opts.Out)
	for _, row := range rows {
		out, err := rowCounts(ctx, executor, counts, row, q.PrimaryKey(), q.Aliases())
		if err != nil {
			return err
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return nil
}

func rowCounts(ctx context.Context, q dbexec.Querier, counts *preload.Counts, row dbexec.Row, pk string, aliases []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(aliases)+1)
	out[pk] = row[pk]
	for _, alias := range aliases {
		n, err := counts.Read(ctx, q, row, alias)
		if err != nil {
			return nil, err
		}
		out[alias] = n
	}
	return out, nil
}

func explain(w io.Writer, counts *preload.Counts, relationships, aliases []string, stmt planner.SQLQuery) error {
	var ops []string
	for _, rel := range relationships {
		if op, ok := counts.OperationFor(rel); ok {
			ops = append(ops, op.Name())
		}
	}

	fmt.Fprintf(w, "-- entity: %s\n", counts.Entity().Name)
	fmt.Fprintf(w, "-- operations: %s\n", strings.Join(ops, ", "))
	fmt.Fprintf(w, "-- accessors: %s\n", strings.Join(aliases, ", "))
	fmt.Fprintf(w, "-- statement: %s\n", stmt.SQL)
	fmt.Fprintf(w, "-- args: %v\n", stmt.Args)
	_, err := fmt.Fprintf(w, "%s;\n", stmt.Inline())
	return err
}
