// Package predicate models scope and relationship filters as condition trees
// over the columns of a single table. A tree is bound to a concrete table name
// to produce a squirrel condition, so the same definition can filter a plain
// SELECT against the table or be embedded in a correlated subquery.
package predicate

import (
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"preloadcounts/internal/sqlutil"
)

// Predicate is a filter condition over one table's columns.
type Predicate interface {
	// Bind renders the condition with every column qualified by table.
	Bind(table string) (sq.Sqlizer, error)
	// Columns returns the referenced column names, sorted and deduplicated.
	Columns() []string
}

type compareOp int

const (
	opEq compareOp = iota
	opNotEq
	opLt
	opLte
	opGt
	opGte
	opLike
	opNotLike
)

type comparison struct {
	column string
	op     compareOp
	value  interface{}
}

// Eq matches rows where column equals value. A nil value matches NULL and a
// slice value matches any of its elements.
func Eq(column string, value interface{}) Predicate {
	return comparison{column: column, op: opEq, value: value}
}

// NotEq is the negation of Eq.
func NotEq(column string, value interface{}) Predicate {
	return comparison{column: column, op: opNotEq, value: value}
}

// Lt matches column < value.
func Lt(column string, value interface{}) Predicate {
	return comparison{column: column, op: opLt, value: value}
}

// Lte matches column <= value.
func Lte(column string, value interface{}) Predicate {
	return comparison{column: column, op: opLte, value: value}
}

// Gt matches column > value.
func Gt(column string, value interface{}) Predicate {
	return comparison{column: column, op: opGt, value: value}
}

// Gte matches column >= value.
func Gte(column string, value interface{}) Predicate {
	return comparison{column: column, op: opGte, value: value}
}

// Like matches column LIKE pattern.
func Like(column, pattern string) Predicate {
	return comparison{column: column, op: opLike, value: pattern}
}

// NotLike matches column NOT LIKE pattern.
func NotLike(column, pattern string) Predicate {
	return comparison{column: column, op: opNotLike, value: pattern}
}

// In matches column IN (values...). An empty list matches nothing.
func In(column string, values ...interface{}) Predicate {
	return comparison{column: column, op: opEq, value: append([]interface{}{}, values...)}
}

// NotIn matches column NOT IN (values...). An empty list matches everything.
func NotIn(column string, values ...interface{}) Predicate {
	return comparison{column: column, op: opNotEq, value: append([]interface{}{}, values...)}
}

// IsNull matches column IS NULL.
func IsNull(column string) Predicate {
	return comparison{column: column, op: opEq, value: nil}
}

// NotNull matches column IS NOT NULL.
func NotNull(column string) Predicate {
	return comparison{column: column, op: opNotEq, value: nil}
}

func (c comparison) Bind(table string) (sq.Sqlizer, error) {
	if c.column == "" {
		return nil, fmt.Errorf("predicate column must not be empty")
	}
	col := sqlutil.QualifiedColumn(table, c.column)
	switch c.op {
	case opEq:
		return sq.Eq{col: c.value}, nil
	case opNotEq:
		return sq.NotEq{col: c.value}, nil
	case opLt:
		return sq.Lt{col: c.value}, nil
	case opLte:
		return sq.LtOrEq{col: c.value}, nil
	case opGt:
		return sq.Gt{col: c.value}, nil
	case opGte:
		return sq.GtOrEq{col: c.value}, nil
	case opLike:
		return sq.Like{col: c.value}, nil
	case opNotLike:
		return sq.NotLike{col: c.value}, nil
	default:
		return nil, fmt.Errorf("unknown comparison operator %d", c.op)
	}
}

func (c comparison) Columns() []string {
	return []string{c.column}
}

type modulo struct {
	column    string
	divisor   int64
	remainder int64
}

// Mod matches column % divisor = remainder, e.g. Mod("id", 2, 0) for even ids.
func Mod(column string, divisor, remainder int64) Predicate {
	return modulo{column: column, divisor: divisor, remainder: remainder}
}

func (m modulo) Bind(table string) (sq.Sqlizer, error) {
	if m.column == "" {
		return nil, fmt.Errorf("predicate column must not be empty")
	}
	if m.divisor == 0 {
		return nil, fmt.Errorf("mod divisor for %s must not be zero", m.column)
	}
	return sq.Expr(sqlutil.QualifiedColumn(table, m.column)+" % ? = ?", m.divisor, m.remainder), nil
}

func (m modulo) Columns() []string {
	return []string{m.column}
}

type conjunction struct {
	any   bool
	items []Predicate
}

// And matches rows satisfying every item. With no items it matches everything.
func And(items ...Predicate) Predicate {
	return conjunction{items: items}
}

// Or matches rows satisfying at least one item. With no items it matches nothing.
func Or(items ...Predicate) Predicate {
	return conjunction{any: true, items: items}
}

func (c conjunction) Bind(table string) (sq.Sqlizer, error) {
	if len(c.items) == 0 {
		if c.any {
			return sq.Expr("1 = 0"), nil
		}
		return sq.Expr("1 = 1"), nil
	}
	parts := make([]sq.Sqlizer, 0, len(c.items))
	for _, item := range c.items {
		if item == nil {
			continue
		}
		bound, err := item.Bind(table)
		if err != nil {
			return nil, err
		}
		parts = append(parts, bound)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	if c.any {
		return sq.Or(parts), nil
	}
	return sq.And(parts), nil
}

func (c conjunction) Columns() []string {
	var cols []string
	for _, item := range c.items {
		if item != nil {
			cols = append(cols, item.Columns()...)
		}
	}
	return uniqueSorted(cols)
}

type negation struct {
	inner Predicate
}

// Not negates a predicate.
func Not(inner Predicate) Predicate {
	return negation{inner: inner}
}

func (n negation) Bind(table string) (sq.Sqlizer, error) {
	if n.inner == nil {
		return nil, fmt.Errorf("NOT requires a predicate")
	}
	bound, err := n.inner.Bind(table)
	if err != nil {
		return nil, err
	}
	return notExpr{inner: bound}, nil
}

func (n negation) Columns() []string {
	if n.inner == nil {
		return nil
	}
	return n.inner.Columns()
}

type notExpr struct {
	inner sq.Sqlizer
}

func (n notExpr) ToSql() (string, []interface{}, error) {
	sql, args, err := n.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", args, nil
}

type raw struct {
	sql  string
	args []interface{}
}

// Raw embeds a hand-written condition. Column references inside it are not
// qualified, so they resolve against the innermost table in scope.
func Raw(sql string, args ...interface{}) Predicate {
	return raw{sql: sql, args: args}
}

func (r raw) Bind(string) (sq.Sqlizer, error) {
	if r.sql == "" {
		return nil, fmt.Errorf("raw predicate must not be empty")
	}
	return sq.Expr(r.sql, r.args...), nil
}

// Columns is empty for raw conditions; they are opaque to validation.
func (r raw) Columns() []string {
	return nil
}

// ToSQL binds p to table and renders it.
func ToSQL(p Predicate, table string) (string, []interface{}, error) {
	bound, err := p.Bind(table)
	if err != nil {
		return "", nil, err
	}
	return bound.ToSql()
}

func uniqueSorted(cols []string) []string {
	if len(cols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(cols))
	out := make([]string, 0, len(cols))
	for _, col := range cols {
		if _, ok := seen[col]; ok {
			continue
		}
		seen[col] = struct{}{}
		out = append(out, col)
	}
	sort.Strings(out)
	return out
}
