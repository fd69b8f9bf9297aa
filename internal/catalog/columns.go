package catalog

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/spf13/cast"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"preloadcounts/internal/dbexec"
)

// TableColumns reads the column names of tables from INFORMATION_SCHEMA in one
// round trip, keyed by table and in ordinal order.
func TableColumns(ctx context.Context, q dbexec.Querier, databaseName string, tables []string) (map[string][]string, error) {
	columns := make(map[string][]string, len(tables))
	if len(tables) == 0 {
		return columns, nil
	}

	ctx, span := otel.Tracer("preloadcounts/catalog").Start(ctx, "catalog.table_columns")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.name", databaseName),
		attribute.Int("db.tables", len(tables)),
	)

	query, args, err := sq.Select("TABLE_NAME", "COLUMN_NAME").
		From("INFORMATION_SCHEMA.COLUMNS").
		Where(sq.Eq{"TABLE_SCHEMA": databaseName}).
		Where(sq.Eq{"TABLE_NAME": tables}).
		OrderBy("TABLE_NAME", "ORDINAL_POSITION").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := dbexec.Fetch(ctx, q, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read columns of %v: %w", tables, err)
	}

	for _, row := range rows {
		table := cast.ToString(row["TABLE_NAME"])
		columns[table] = append(columns[table], cast.ToString(row["COLUMN_NAME"]))
	}
	return columns, nil
}
