// Package sqlite implements the local fallback for the structured data
// service. It emulates the reduced query surface against an embedded
// single-file database so the application keeps answering while the remote
// service is unreachable.
//
// Every write commits immediately; data written during an outage survives
// a process crash. The database file lives in the fallback data directory
// and is reused across restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/vietddude/mediagate/internal/core/domain"
	"github.com/vietddude/mediagate/internal/infra/structured"
)

const schema = `
CREATE TABLE IF NOT EXISTS videos (
	id TEXT PRIMARY KEY,
	filename TEXT,
	file_path TEXT,
	title TEXT,
	description TEXT,
	tags TEXT,
	duration REAL,
	size_bytes INTEGER,
	format TEXT,
	width INTEGER,
	height INTEGER,
	thumbnail_path TEXT,
	created_at TEXT,
	updated_at TEXT,
	user_id TEXT,
	metadata TEXT,
	status TEXT DEFAULT 'processed'
);

CREATE TABLE IF NOT EXISTS processing_jobs (
	id TEXT PRIMARY KEY,
	video_id TEXT,
	job_type TEXT,
	status TEXT,
	progress INTEGER DEFAULT 0,
	started_at TEXT,
	completed_at TEXT,
	params TEXT,
	error TEXT,
	webhook_sent INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS webhook_events (
	id TEXT PRIMARY KEY,
	job_id TEXT,
	event_type TEXT,
	status TEXT,
	payload TEXT,
	sent_at TEXT,
	endpoint TEXT
);
`

// Store is the sqlite-backed structured fallback.
// Implements structured.Client.
type Store struct {
	db *sqlx.DB
}

// Open creates or reuses the fallback database at path and ensures the
// application schema exists. Pass ":memory:" for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback database: %w", err)
	}

	// A single connection sidesteps table-lock contention between the
	// pool's connections; the engine serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping fallback database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize fallback schema: %w", err)
	}

	slog.Info("Structured fallback store ready", "path", path)
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health runs the trivial liveness read used by connection probes.
func (s *Store) Health(ctx context.Context) error {
	var id string
	err := s.db.QueryRowxContext(ctx, "SELECT id FROM videos LIMIT 1").Scan(&id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("fallback health check failed: %w", err)
	}
	return nil
}

// Select returns rows matching the query.
func (s *Store) Select(ctx context.Context, q structured.Query) ([]domain.Record, error) {
	if !structured.KnownTable(q.Table) {
		return nil, fmt.Errorf("%w: %s", structured.ErrUnknownTable, q.Table)
	}

	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(q.Columns, ", ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, q.Table)

	where, args := buildWhere(q.Predicates)
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
	} else if q.Offset > 0 {
		// OFFSET is only valid after a LIMIT clause; -1 means unbounded.
		sb.WriteString(" LIMIT -1")
	}
	if q.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryxContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("fallback select failed: %w", err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		rec := domain.Record{}
		if err := rows.MapScan(rec); err != nil {
			return nil, fmt.Errorf("fallback row scan failed: %w", err)
		}
		out = append(out, structured.Normalize(rec))
	}
	return out, rows.Err()
}

// Insert stores a record, generating an id when none is supplied.
func (s *Store) Insert(ctx context.Context, table string, record domain.Record) (domain.Record, error) {
	if !structured.KnownTable(table) {
		return nil, fmt.Errorf("%w: %s", structured.ErrUnknownTable, table)
	}

	stored, err := structured.Serialize(record)
	if err != nil {
		return nil, fmt.Errorf("fallback insert encode failed: %w", err)
	}
	if _, ok := stored["id"]; !ok {
		stored["id"] = uuid.NewString()
	}

	cols := make([]string, 0, len(stored))
	args := make([]any, 0, len(stored))
	for col, v := range stored {
		cols = append(cols, col)
		args = append(args, v)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("fallback insert failed: %w", err)
	}

	out := structured.Normalize(stored)
	return out, nil
}

// Update applies patch to matching rows.
func (s *Store) Update(ctx context.Context, table string, predicates []structured.Predicate, patch domain.Record) (int64, error) {
	if !structured.KnownTable(table) {
		return 0, fmt.Errorf("%w: %s", structured.ErrUnknownTable, table)
	}
	if len(predicates) == 0 {
		slog.Warn("Fallback update without predicates touches every row", "table", table)
	}

	stored, err := structured.Serialize(patch)
	if err != nil {
		return 0, fmt.Errorf("fallback update encode failed: %w", err)
	}

	sets := make([]string, 0, len(stored))
	args := make([]any, 0, len(stored))
	for col, v := range stored {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	where, whereArgs := buildWhere(predicates)
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), where)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("fallback update failed: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes matching rows.
func (s *Store) Delete(ctx context.Context, table string, predicates []structured.Predicate) (int64, error) {
	if !structured.KnownTable(table) {
		return 0, fmt.Errorf("%w: %s", structured.ErrUnknownTable, table)
	}
	if len(predicates) == 0 {
		slog.Warn("Fallback delete without predicates removes every row", "table", table)
	}

	where, args := buildWhere(predicates)
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+where, args...)
	if err != nil {
		return 0, fmt.Errorf("fallback delete failed: %w", err)
	}
	return res.RowsAffected()
}

func buildWhere(predicates []structured.Predicate) (string, []any) {
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
			clauses = append(clauses, p.Column+" = ?")
			args = append(args, p.Values[0])
		default:
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(p.Values)), ", ")
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", p.Column, placeholders))
			args = append(args, p.Values...)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
