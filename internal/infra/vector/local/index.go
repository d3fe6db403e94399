// Package local implements the on-disk fallback vector index. It stores
// embeddings in an embedded single-file database and scores queries by
// brute force, which is exact and fast enough at fallback scale.
package local

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/vietddude/mediagate/internal/infra/vector"
)

const schema = `
CREATE TABLE IF NOT EXISTS vectors (
	id TEXT NOT NULL,
	namespace TEXT NOT NULL DEFAULT '',
	embedding BLOB NOT NULL,
	metadata TEXT,
	position INTEGER,
	PRIMARY KEY (id, namespace)
);
`

// Index is the sqlite-backed vector fallback.
// Implements vector.Client.
type Index struct {
	db        *sqlx.DB
	dimension int

	mu   sync.Mutex
	next int64 // insertion counter for deterministic tie-breaks
}

// Open creates or reuses the fallback index at path. dimension fixes the
// accepted vector length.
func Open(ctx context.Context, path string, dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dimension)
	}

	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback index: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize fallback index schema: %w", err)
	}

	idx := &Index{db: db, dimension: dimension}

	var next sql.NullInt64
	if err := db.QueryRowxContext(ctx, "SELECT MAX(position) FROM vectors").Scan(&next); err == nil && next.Valid {
		idx.next = next.Int64 + 1
	}

	slog.Info("Vector fallback index ready", "path", path, "dimension", dimension)
	return idx, nil
}

// Close releases the database.
func (i *Index) Close() error {
	return i.db.Close()
}

// Health runs the trivial read used by connection probes.
func (i *Index) Health(ctx context.Context) error {
	var n int
	if err := i.db.QueryRowxContext(ctx, "SELECT COUNT(*) FROM vectors").Scan(&n); err != nil {
		return fmt.Errorf("fallback index health check failed: %w", err)
	}
	return nil
}

// Upsert stores vectors, replacing existing ids within the same namespace.
// Replaced vectors keep a fresh insertion position.
func (i *Index) Upsert(ctx context.Context, vectors []vector.Vector) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	tx, err := i.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("fallback upsert failed: %w", err)
	}
	defer tx.Rollback()

	count := 0
	for _, v := range vectors {
		if len(v.Values) != i.dimension {
			return count, fmt.Errorf("%w: got %d, index expects %d", vector.ErrDimensionMismatch, len(v.Values), i.dimension)
		}

		meta, err := encodeMetadata(v.Metadata)
		if err != nil {
			return count, fmt.Errorf("fallback upsert metadata encode failed: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO vectors (id, namespace, embedding, metadata, position)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (id, namespace) DO UPDATE SET
				embedding = excluded.embedding,
				metadata = excluded.metadata,
				position = excluded.position`,
			v.ID, v.Namespace, encodeVector(v.Values), meta, i.next)
		if err != nil {
			return count, fmt.Errorf("fallback upsert failed: %w", err)
		}
		i.next++
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("fallback upsert commit failed: %w", err)
	}
	return count, nil
}

// Fetch returns stored vectors by id. Unknown ids are skipped.
func (i *Index) Fetch(ctx context.Context, namespace string, ids []string) ([]vector.Vector, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+1)
	args = append(args, namespace)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := i.db.QueryxContext(ctx,
		fmt.Sprintf("SELECT id, namespace, embedding, metadata FROM vectors WHERE namespace = ? AND id IN (%s) ORDER BY position", placeholders),
		args...)
	if err != nil {
		return nil, fmt.Errorf("fallback fetch failed: %w", err)
	}
	defer rows.Close()

	var out []vector.Vector
	for rows.Next() {
		var (
			v    vector.Vector
			blob []byte
			meta sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.Namespace, &blob, &meta); err != nil {
			return nil, fmt.Errorf("fallback fetch scan failed: %w", err)
		}
		if v.Values, err = decodeVector(blob); err != nil {
			return nil, err
		}
		if v.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Delete removes vectors by id, returning how many existed.
func (i *Index) Delete(ctx context.Context, namespace string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+1)
	args = append(args, namespace)
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := i.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM vectors WHERE namespace = ? AND id IN (%s)", placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("fallback delete failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteAll removes every vector in the namespace.
func (i *Index) DeleteAll(ctx context.Context, namespace string) (int, error) {
	res, err := i.db.ExecContext(ctx, "DELETE FROM vectors WHERE namespace = ?", namespace)
	if err != nil {
		return 0, fmt.Errorf("fallback delete failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Search scans every vector in the namespace and returns the TopK best
// matches, highest score first. Ties keep insertion order.
func (i *Index) Search(ctx context.Context, q vector.Query) ([]vector.Match, error) {
	if len(q.Values) != i.dimension {
		return nil, fmt.Errorf("%w: got %d, index expects %d", vector.ErrDimensionMismatch, len(q.Values), i.dimension)
	}

	rows, err := i.db.QueryxContext(ctx,
		"SELECT id, embedding, metadata FROM vectors WHERE namespace = ? ORDER BY position", q.Namespace)
	if err != nil {
		return nil, fmt.Errorf("fallback search failed: %w", err)
	}
	defer rows.Close()

	var matches []vector.Match
	for rows.Next() {
		var (
			id   string
			blob []byte
			meta sql.NullString
		)
		if err := rows.Scan(&id, &blob, &meta); err != nil {
			return nil, fmt.Errorf("fallback search scan failed: %w", err)
		}

		metadata, err := decodeMetadata(meta)
		if err != nil {
			return nil, err
		}
		if !vector.MatchesFilter(metadata, q.Filter) {
			continue
		}

		values, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}

		matches = append(matches, vector.Match{
			ID:       id,
			Score:    score(q.Metric, q.Values, values),
			Metadata: metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})

	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func score(metric vector.Metric, query, candidate []float32) float64 {
	switch metric {
	case vector.MetricEuclidean:
		var sum float64
		for n := range query {
			d := float64(query[n]) - float64(candidate[n])
			sum += d * d
		}
		return 1 / (1 + math.Sqrt(sum))
	default:
		var dot, qNorm, cNorm float64
		for n := range query {
			dot += float64(query[n]) * float64(candidate[n])
			qNorm += float64(query[n]) * float64(query[n])
			cNorm += float64(candidate[n]) * float64(candidate[n])
		}
		if qNorm == 0 || cNorm == 0 {
			return 0
		}
		return dot / (math.Sqrt(qNorm) * math.Sqrt(cNorm))
	}
}

// Vectors are stored as little-endian float32 blobs.

func encodeVector(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for n, v := range values {
		binary.LittleEndian.PutUint32(buf[4*n:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errors.New("corrupt embedding blob")
	}
	values := make([]float32, len(blob)/4)
	for n := range values {
		values[n] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*n:]))
	}
	return values, nil
}

func encodeMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeMetadata(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("corrupt vector metadata: %w", err)
	}
	return m, nil
}
