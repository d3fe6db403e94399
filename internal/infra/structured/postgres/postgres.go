// Package postgres implements the primary structured data client.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // Use pgx via database/sql
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/mediagate/internal/core/domain"
	"github.com/vietddude/mediagate/internal/infra/structured"
)

// Client wraps the pooled connection to the primary database.
// Implements structured.Client.
type Client struct {
	db *sqlx.DB
}

// New creates a new database connection.
func New(dsn string) (*Client, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// DB exposes the underlying handle for migrations.
func (c *Client) DB() *sql.DB {
	return c.db.DB
}

// Close closes the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// Health runs the trivial read used by connection probes.
func (c *Client) Health(ctx context.Context) error {
	var id string
	err := c.db.QueryRowxContext(ctx, "SELECT id FROM videos LIMIT 1").Scan(&id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("primary health check failed: %w", err)
	}
	return nil
}

// Select returns rows matching the query.
func (c *Client) Select(ctx context.Context, q structured.Query) ([]domain.Record, error) {
	if !structured.KnownTable(q.Table) {
		return nil, fmt.Errorf("%w: %s", structured.ErrUnknownTable, q.Table)
	}

	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(q.Columns, ", ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, q.Table)

	where, args := buildWhere(q.Predicates, 1)
	sb.WriteString(where)

	if q.OrderBy != "" {
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s", q.OrderBy, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", q.Offset)
	}

	rows, err := c.db.QueryxContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("primary select failed: %w", err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		rec := domain.Record{}
		if err := rows.MapScan(rec); err != nil {
			return nil, fmt.Errorf("primary row scan failed: %w", err)
		}
		out = append(out, structured.Normalize(rec))
	}
	return out, rows.Err()
}

// Insert stores a record, generating an id when none is supplied.
func (c *Client) Insert(ctx context.Context, table string, record domain.Record) (domain.Record, error) {
	if !structured.KnownTable(table) {
		return nil, fmt.Errorf("%w: %s", structured.ErrUnknownTable, table)
	}

	stored, err := structured.Serialize(record)
	if err != nil {
		return nil, fmt.Errorf("primary insert encode failed: %w", err)
	}
	if _, ok := stored["id"]; !ok {
		stored["id"] = uuid.NewString()
	}

	cols := make([]string, 0, len(stored))
	placeholders := make([]string, 0, len(stored))
	args := make([]any, 0, len(stored))
	for col, v := range stored {
		cols = append(cols, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
		args = append(args, v)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("primary insert failed: %w", err)
	}
	return structured.Normalize(stored), nil
}

// Update applies patch to matching rows.
func (c *Client) Update(ctx context.Context, table string, predicates []structured.Predicate, patch domain.Record) (int64, error) {
	if !structured.KnownTable(table) {
		return 0, fmt.Errorf("%w: %s", structured.ErrUnknownTable, table)
	}

	stored, err := structured.Serialize(patch)
	if err != nil {
		return 0, fmt.Errorf("primary update encode failed: %w", err)
	}

	sets := make([]string, 0, len(stored))
	args := make([]any, 0, len(stored))
	for col, v := range stored {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)+1))
		args = append(args, v)
	}

	where, whereArgs := buildWhere(predicates, len(args)+1)
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), where)
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("primary update failed: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes matching rows.
func (c *Client) Delete(ctx context.Context, table string, predicates []structured.Predicate) (int64, error) {
	if !structured.KnownTable(table) {
		return 0, fmt.Errorf("%w: %s", structured.ErrUnknownTable, table)
	}

	where, args := buildWhere(predicates, 1)
	res, err := c.db.ExecContext(ctx, "DELETE FROM "+table+where, args...)
	if err != nil {
		return 0, fmt.Errorf("primary delete failed: %w", err)
	}
	return res.RowsAffected()
}

func buildWhere(predicates []structured.Predicate, start int) (string, []any) {
	if len(predicates) == 0 {
		return "", nil
	}

	clauses := make([]string, 0, len(predicates))
	var args []any
	for _, p := range predicates {
		switch len(p.Values) {
		case 0:
			continue
		case 1:
			clauses = append(clauses, fmt.Sprintf("%s = $%d", p.Column, start+len(args)))
			args = append(args, p.Values[0])
		default:
			placeholders := make([]string, 0, len(p.Values))
			for _, v := range p.Values {
				placeholders = append(placeholders, fmt.Sprintf("$%d", start+len(args)))
				args = append(args, v)
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", p.Column, strings.Join(placeholders, ", ")))
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
