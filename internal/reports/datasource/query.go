package datasource

import (
	"context"
	"fmt"
	"reflect"
	"regexp"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"carbon-scribe/report-engine/internal/reports"
)

// forbiddenSQL matches write and DDL keywords as whole words, so column
// names such as deleted_at or updated_at pass
var forbiddenSQL = regexp.MustCompile(`(?i)\b(DROP|DELETE|UPDATE|INSERT|ALTER|TRUNCATE)\b`)

// Guard rejects SQL containing a write or DDL keyword. It is a lightweight
// check, not a parser.
func Guard(sql string) error {
	if m := forbiddenSQL.FindString(sql); m != "" {
		return &reports.DataSourceError{Message: fmt.Sprintf("disallowed SQL keyword %q", m)}
	}
	return nil
}

// Querier runs a read-only statement with named bind arguments
type Querier interface {
	QueryRows(ctx context.Context, query string, args map[string]any) ([]map[string]any, error)
}

// SQLQuerier executes :name-bound queries through sqlx. Postgres casts must
// be written as CAST(x AS t) because sqlx reads "::" as an escaped colon.
type SQLQuerier struct {
	db *sqlx.DB
}

// NewSQLQuerier wraps a sqlx handle
func NewSQLQuerier(db *sqlx.DB) *SQLQuerier {
	return &SQLQuerier{db: db}
}

func (q *SQLQuerier) QueryRows(ctx context.Context, query string, args map[string]any) ([]map[string]any, error) {
	if err := Guard(query); err != nil {
		return nil, err
	}

	rows, err := q.db.NamedQueryContext(ctx, query, bindArgs(args))
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out, nil
}

// bindArgs wraps slice arguments as Postgres arrays for use with ANY(:ids)
func bindArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if v == nil {
			out[k] = nil
			continue
		}
		if _, ok := v.([]byte); !ok && reflect.TypeOf(v).Kind() == reflect.Slice {
			out[k] = pq.Array(v)
			continue
		}
		out[k] = v
	}
	return out
}
