package planner

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"preloadcounts/internal/model"
	"preloadcounts/internal/scope"
	"preloadcounts/internal/sqlutil"
)

// CountColumn is one compiled correlated count, selectable as an extra column
// of the parent query.
type CountColumn struct {
	Alias string
	Expr  sq.Sqlizer
}

// ToSql renders the column as "(subquery) AS `alias`".
func (c CountColumn) ToSql() (string, []interface{}, error) {
	if c.Expr == nil {
		return "", nil, fmt.Errorf("count column %s has no expression", c.Alias)
	}
	return sq.Alias(c.Expr, sqlutil.QuoteIdentifier(c.Alias)).ToSql()
}

// CompileCount builds the correlated subquery counting d's child rows for the
// current parent row. The predicates are ANDed in order after the correlation
// and, for polymorphic relationships, the discriminator match.
func CompileCount(d model.Descriptor, predicates []sq.Sqlizer, alias string) (CountColumn, error) {
	if d.Through {
		return CountColumn{}, fmt.Errorf("compile count for %s: %w", d.Name, model.ErrUnsupportedRelationship)
	}
	if alias == "" {
		return CountColumn{}, fmt.Errorf("compile count for %s: alias must not be empty", d.Name)
	}
	if d.Parent == nil || d.Child == nil {
		return CountColumn{}, fmt.Errorf("compile count for %s: %w", d.Name, model.ErrUnknownEntityType)
	}

	child := d.ChildRef()
	builder := sq.Select("COUNT(*)").
		From(childFrom(d)).
		Where(sq.Expr(sqlutil.QualifiedColumn(child, d.ForeignKey) + " = " +
			sqlutil.QualifiedColumn(d.Parent.Table, d.Parent.PrimaryKey)))
	if d.IsPolymorphic() {
		builder = builder.Where(sq.Eq{sqlutil.QualifiedColumn(child, d.PolymorphicTypeColumn): d.PolymorphicValue})
	}
	builder = builder.Where(scope.Conjunction(predicates...)).PlaceholderFormat(sq.Question)

	return CountColumn{Alias: alias, Expr: builder}, nil
}

// PlanRelationRows builds the query selecting every child row of d that belongs
// to the parent identified by parentKey and satisfies the predicates.
func PlanRelationRows(d model.Descriptor, parentKey interface{}, predicates []sq.Sqlizer) (SQLQuery, error) {
	if d.Through {
		return SQLQuery{}, fmt.Errorf("plan relation %s: %w", d.Name, model.ErrUnsupportedRelationship)
	}
	if d.Child == nil {
		return SQLQuery{}, fmt.Errorf("plan relation %s: %w", d.Name, model.ErrUnknownEntityType)
	}

	child := d.ChildRef()
	builder := sq.Select(sqlutil.AllColumns(child)).
		From(childFrom(d)).
		Where(sq.Eq{sqlutil.QualifiedColumn(child, d.ForeignKey): parentKey})
	if d.IsPolymorphic() {
		builder = builder.Where(sq.Eq{sqlutil.QualifiedColumn(child, d.PolymorphicTypeColumn): d.PolymorphicValue})
	}
	if len(predicates) > 0 {
		builder = builder.Where(scope.Conjunction(predicates...))
	}

	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// childFrom renders the child table, aliased when it is the parent's own table.
func childFrom(d model.Descriptor) string {
	from := sqlutil.QuoteIdentifier(d.Child.Table)
	if ref := d.ChildRef(); ref != d.Child.Table {
		from += " AS " + sqlutil.QuoteIdentifier(ref)
	}
	return from
}
