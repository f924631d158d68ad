// Package store holds entity-agnostic Postgres access helpers shared by
// every concrete repository in this module (event store, audit log,
// certificate store, replica pool cache-backing store).
//
// Three shared patterns live here:
//   - BaseStore: embed this to get a connection pool without repeating
//     a constructor in every repository.
//   - QueryBuilder: progressive WHERE-clause construction for dynamic
//     filtering and keyword search.
//   - CollectRows / CollectOne: generic row-to-struct scanning via
//     pgx.CollectRows + RowToStructByNameLax.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisflow/aegis/pkg/logger"
	"github.com/aegisflow/aegis/pkg/util"
)

var emptyJSON = []byte("{}")

// MustMarshalJSON serializes v, logging a warning and returning "{}"
// instead of panicking if marshaling fails.
func MustMarshalJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn("store.MustMarshalJSON: marshal failed, using fallback",
			"value_type", fmt.Sprintf("%T", v),
			logger.FieldError, err)
		return emptyJSON
	}
	return data
}

// BaseStore is the embed base for every repository; it holds the
// connection pool so repositories don't each declare
// struct{ pool *pgxpool.Pool } + NewXxxStore(pool).
//
//	type FooStore struct{ BaseStore }
//	func NewFooStore(pool *pgxpool.Pool) *FooStore { return &FooStore{NewBaseStore(pool)} }
type BaseStore struct{ pool *pgxpool.Pool }

// NewBaseStore creates a BaseStore.
func NewBaseStore(pool *pgxpool.Pool) BaseStore { return BaseStore{pool: pool} }

// Pool exposes the underlying pool for repositories that need raw
// transaction control (e.g. the event store's conditional append).
func (b BaseStore) Pool() *pgxpool.Pool { return b.pool }

// ========================================
// QueryBuilder — dynamic WHERE-clause construction
// ========================================

// QueryBuilder incrementally assembles a parameterized WHERE clause,
// shared across repositories to avoid repeating dynamic-filter logic.
type QueryBuilder struct {
	where  []string
	params []any
	n      int // positional parameter counter ($1, $2, ... for pgx)
}

// NewQueryBuilder creates an empty builder.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// Eq adds an equality condition. A zero-value val is skipped.
func (q *QueryBuilder) Eq(col, val string) *QueryBuilder {
	if val == "" {
		return q
	}
	q.n++
	q.where = append(q.where, fmt.Sprintf("%s = $%d", col, q.n))
	q.params = append(q.params, val)
	return q
}

// In adds a column IN (...) condition over string values.
func (q *QueryBuilder) In(col string, vals []string) *QueryBuilder {
	if len(vals) == 0 {
		return q
	}
	q.n++
	q.where = append(q.where, fmt.Sprintf("%s = ANY($%d::text[])", col, q.n))
	q.params = append(q.params, vals)
	return q
}

// Since adds a "col >= $N" timestamp lower bound.
func (q *QueryBuilder) Since(col string, rfc3339 string) *QueryBuilder {
	if rfc3339 == "" {
		return q
	}
	q.n++
	q.where = append(q.where, fmt.Sprintf("%s >= $%d", col, q.n))
	q.params = append(q.params, rfc3339)
	return q
}

// KeywordLike adds a multi-column case-insensitive LIKE search.
func (q *QueryBuilder) KeywordLike(keyword string, cols ...string) *QueryBuilder {
	if keyword == "" || len(cols) == 0 {
		return q
	}
	kw := "%" + util.EscapeLike(strings.ToLower(keyword)) + "%"
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		q.n++
		parts = append(parts, fmt.Sprintf("LOWER(%s) LIKE $%d ESCAPE E'\\\\'", c, q.n))
		q.params = append(q.params, kw)
	}
	q.where = append(q.where, "("+strings.Join(parts, " OR ")+")")
	return q
}

// Build assembles the full SQL statement: baseSql + WHERE + ORDER BY + LIMIT.
func (q *QueryBuilder) Build(baseSql, orderBy string, limit int) (string, []any) {
	limit = util.ClampInt(limit, 1, 2000)
	sql := baseSql
	if len(q.where) > 0 {
		sql += " WHERE " + strings.Join(q.where, " AND ")
	}
	if orderBy != "" {
		sql += " ORDER BY " + orderBy
	}
	q.n++
	sql += fmt.Sprintf(" LIMIT $%d", q.n)
	q.params = append(q.params, limit)
	return sql, q.params
}

// ========================================
// CollectRows — generic row scanning
// ========================================

// CollectRows scans rows into a struct slice via pgx.RowToStructByNameLax.
func CollectRows[T any](rows pgx.Rows) ([]T, error) {
	return pgx.CollectRows(rows, pgx.RowToStructByNameLax[T])
}

// CollectOne scans a single row, returning nil if there were none.
func CollectOne[T any](rows pgx.Rows) (*T, error) {
	items, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[T])
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// ========================================
// DistinctValues — filter dropdown values
// ========================================

// DistinctValues queries the distinct non-empty values of a column.
func DistinctValues(ctx context.Context, pool *pgxpool.Pool, table, column string) ([]string, error) {
	safeTable := pgx.Identifier{table}.Sanitize()
	safeCol := pgx.Identifier{column}.Sanitize()
	sql := fmt.Sprintf(
		"SELECT DISTINCT %s AS value FROM %s WHERE %s <> '' ORDER BY value",
		safeCol, safeTable, safeCol,
	)
	rows, err := pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// ========================================
// Generic CRUD helpers
// ========================================

// DeleteByKey deletes a single row by primary key.
func DeleteByKey(ctx context.Context, pool *pgxpool.Pool, table, keyCol, keyVal string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
		pgx.Identifier{table}.Sanitize(),
		pgx.Identifier{keyCol}.Sanitize())
	_, err := pool.Exec(ctx, sql, keyVal)
	return err
}

// DeleteBatchByKeys deletes rows matching any of keys, returning the
// number of rows removed.
func DeleteBatchByKeys(ctx context.Context, pool *pgxpool.Pool, table, keyCol string, keys []string) (int64, error) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = ANY($1::text[])",
		pgx.Identifier{table}.Sanitize(),
		pgx.Identifier{keyCol}.Sanitize())
	tag, err := pool.Exec(ctx, sql, keys)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
