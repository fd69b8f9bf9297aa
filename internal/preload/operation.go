package preload

import (
	"preloadcounts/internal/planner"
)

// Operation appends every count declared for one relationship to a query of
// the entity's table.
type Operation struct {
	name         string
	relationship string
	counts       *Counts

	// guarded by counts.mu
	columns []planner.CountColumn
}

// Name is the generated operation name, e.g. "preload_comment_counts".
func (o *Operation) Name() string {
	return o.name
}

// Relationship is the relationship the operation counts.
func (o *Operation) Relationship() string {
	return o.relationship
}

// Aliases returns the selected count aliases in declaration order.
func (o *Operation) Aliases() []string {
	o.counts.mu.RLock()
	defer o.counts.mu.RUnlock()
	out := make([]string, 0, len(o.columns))
	for _, col := range o.columns {
		out = append(out, col.Alias)
	}
	return out
}

// Query starts a new query for the entity with this operation's counts applied.
func (o *Operation) Query() planner.Query {
	return o.Apply(planner.BaseQuery(o.counts.entity))
}

// Apply returns q with this operation's counts appended. q must select from
// the entity's table; counts already selected by q are not repeated.
func (o *Operation) Apply(q planner.Query) planner.Query {
	o.counts.mu.RLock()
	cols := append([]planner.CountColumn(nil), o.columns...)
	o.counts.mu.RUnlock()
	return planner.Augment(q, cols...)
}

func (o *Operation) putColumn(col planner.CountColumn) {
	for i, existing := range o.columns {
		if existing.Alias == col.Alias {
			o.columns[i] = col
			return
		}
	}
	o.columns = append(o.columns, col)
}

func (o *Operation) removeColumn(alias string) {
	for i, existing := range o.columns {
		if existing.Alias == alias {
			o.columns = append(o.columns[:i:i], o.columns[i+1:]...)
			return
		}
	}
}
