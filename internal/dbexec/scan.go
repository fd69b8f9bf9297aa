package dbexec

import (
	"context"
	"fmt"
)

// Row is one loaded row keyed by result column name. Selected count columns
// appear under their alias.
type Row map[string]interface{}

// Has reports whether the row carries a value for column, NULL included.
func (r Row) Has(column string) bool {
	_, ok := r[column]
	return ok
}

// ScanRows reads every remaining row. Byte slices are converted to strings.
func ScanRows(rows Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read result columns: %w", err)
	}

	var results []Row
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// Fetch runs query and scans every row.
func Fetch(ctx context.Context, q Querier, query string, args ...any) ([]Row, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return ScanRows(rows)
}

func convertValue(val interface{}) interface{} {
	if val == nil {
		return nil
	}

	if b, ok := val.([]byte); ok {
		return string(b)
	}

	return val
}
