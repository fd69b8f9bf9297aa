package planner

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"preloadcounts/internal/model"
	"preloadcounts/internal/sqlutil"
)

// Query selects every column of an entity's table plus any number of count
// columns. It is immutable: each builder method returns a new Query.
type Query struct {
	table   string
	pk      string
	columns []CountColumn
	where   []sq.Sqlizer
	orderBy []string
	limit   *uint64
	offset  *uint64
}

// BaseQuery returns "SELECT `t`.* FROM `t`" for the entity's table.
func BaseQuery(entity *model.EntityType) Query {
	return Query{table: entity.Table, pk: entity.PrimaryKey}
}

// Augment returns a copy of base with cols appended. Columns whose alias is
// already selected are skipped.
func Augment(base Query, cols ...CountColumn) Query {
	out := base.clone()
	for _, col := range cols {
		if out.HasAlias(col.Alias) {
			continue
		}
		out.columns = append(out.columns, col)
	}
	return out
}

// Table returns the table the query selects from.
func (q Query) Table() string {
	return q.table
}

// PrimaryKey returns the primary key column of the queried entity.
func (q Query) PrimaryKey() string {
	return q.pk
}

// Aliases returns the count column aliases in selection order.
func (q Query) Aliases() []string {
	out := make([]string, 0, len(q.columns))
	for _, col := range q.columns {
		out = append(out, col.Alias)
	}
	return out
}

// HasAlias reports whether a count column with alias is selected.
func (q Query) HasAlias(alias string) bool {
	for _, col := range q.columns {
		if col.Alias == alias {
			return true
		}
	}
	return false
}

// Where adds a condition on the parent rows.
func (q Query) Where(cond sq.Sqlizer) Query {
	out := q.clone()
	out.where = append(out.where, cond)
	return out
}

// OrderBy appends ORDER BY clauses.
func (q Query) OrderBy(clauses ...string) Query {
	out := q.clone()
	out.orderBy = append(out.orderBy, clauses...)
	return out
}

// Limit sets the row limit.
func (q Query) Limit(n uint64) Query {
	out := q.clone()
	out.limit = &n
	return out
}

// Offset sets the row offset.
func (q Query) Offset(n uint64) Query {
	out := q.clone()
	out.offset = &n
	return out
}

// ToSQL renders the query.
func (q Query) ToSQL() (SQLQuery, error) {
	if q.table == "" {
		return SQLQuery{}, fmt.Errorf("query has no table")
	}
	builder := sq.Select(sqlutil.AllColumns(q.table)).From(sqlutil.QuoteIdentifier(q.table))
	for _, col := range q.columns {
		builder = builder.Column(col)
	}
	for _, cond := range q.where {
		builder = builder.Where(cond)
	}
	if len(q.orderBy) > 0 {
		builder = builder.OrderBy(q.orderBy...)
	}
	if q.limit != nil {
		builder = builder.Limit(*q.limit)
	}
	if q.offset != nil {
		builder = builder.Offset(*q.offset)
	}

	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

func (q Query) clone() Query {
	out := q
	out.columns = append([]CountColumn(nil), q.columns...)
	out.where = append([]sq.Sqlizer(nil), q.where...)
	out.orderBy = append([]string(nil), q.orderBy...)
	return out
}
