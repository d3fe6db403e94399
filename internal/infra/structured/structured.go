// Package structured defines the capability interface for the structured
// data service. The primary Postgres client, the secondary-credential
// client, and the local sqlite fallback all implement Client, so callers
// never branch on which tier answered.
//
// The query surface is a deliberate reduction of the remote service's full
// query language: equality and set-membership predicates, ordering, limit
// and offset. It is the subset the application actually uses, and it is
// what the local fallback can faithfully emulate.
package structured

import (
	"context"
	"errors"

	"github.com/vietddude/mediagate/internal/core/domain"
)

// ErrUnknownTable is returned for tables outside the application schema.
var ErrUnknownTable = errors.New("unknown table")

// Predicate restricts rows by column value. A single value means equality;
// multiple values mean set membership (IN).
type Predicate struct {
	Column string
	Values []any
}

// Eq builds an equality predicate.
func Eq(column string, value any) Predicate {
	return Predicate{Column: column, Values: []any{value}}
}

// In builds a set-membership predicate.
func In(column string, values ...any) Predicate {
	return Predicate{Column: column, Values: values}
}

// Query describes a select against one table.
type Query struct {
	Table      string
	Columns    []string // empty selects all columns
	Predicates []Predicate
	OrderBy    string
	Descending bool
	Limit      int
	Offset     int
}

// Client is the structured-data capability. Implementations return rows in
// the same normalized Record shape regardless of tier.
type Client interface {
	// Select returns the rows matching the query.
	Select(ctx context.Context, q Query) ([]domain.Record, error)

	// Insert stores a record and returns it with generated fields filled in.
	Insert(ctx context.Context, table string, record domain.Record) (domain.Record, error)

	// Update applies patch to matching rows and returns how many changed.
	Update(ctx context.Context, table string, predicates []Predicate, patch domain.Record) (int64, error)

	// Delete removes matching rows and returns how many were removed.
	Delete(ctx context.Context, table string, predicates []Predicate) (int64, error)

	// Health runs a trivial read to test whether the backend responds.
	Health(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Application tables. Both tiers share this schema.
const (
	TableVideos         = "videos"
	TableProcessingJobs = "processing_jobs"
	TableWebhookEvents  = "webhook_events"
)

// Tables lists the known application tables.
func Tables() []string {
	return []string{TableVideos, TableProcessingJobs, TableWebhookEvents}
}

// KnownTable reports whether name is part of the application schema.
// Both tiers reject anything else so a query cannot be used to reach
// arbitrary relations.
func KnownTable(name string) bool {
	switch name {
	case TableVideos, TableProcessingJobs, TableWebhookEvents:
		return true
	}
	return false
}

// jsonColumns are stored serialized and decoded back into structured
// values when rows are read.
var jsonColumns = map[string]bool{
	"tags":     true,
	"metadata": true,
	"params":   true,
	"payload":  true,
}

// JSONColumn reports whether a column holds a serialized JSON document.
func JSONColumn(name string) bool {
	return jsonColumns[name]
}
