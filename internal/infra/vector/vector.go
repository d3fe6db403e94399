// Package vector defines the vector search capability implemented by the
// primary index and the local fallback.
package vector

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
)

// Metric selects how query similarity is scored.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
)

// ErrDimensionMismatch is returned when a vector's length does not match
// the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Vector is a single embedding with its metadata.
type Vector struct {
	ID        string         `json:"id"`
	Values    []float32      `json:"values"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Namespace string         `json:"namespace,omitempty"`
}

// Match is one search result.
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Query describes a similarity search.
type Query struct {
	Values    []float32
	TopK      int
	Namespace string
	// Filter keeps only vectors whose metadata matches every key exactly.
	Filter map[string]any
	Metric Metric
}

// Client is the vector search surface the gateway selects between.
type Client interface {
	Upsert(ctx context.Context, vectors []Vector) (int, error)
	Fetch(ctx context.Context, namespace string, ids []string) ([]Vector, error)
	Delete(ctx context.Context, namespace string, ids []string) (int, error)
	DeleteAll(ctx context.Context, namespace string) (int, error)
	Search(ctx context.Context, q Query) ([]Match, error)
	Health(ctx context.Context) error
	Close() error
}

// MatchesFilter reports whether metadata satisfies every filter key with an
// equal value. Values compare after a JSON round-trip, so a caller-supplied
// int matches a stored float64 and slice values compare by content.
func MatchesFilter(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || !reflect.DeepEqual(jsonNormalize(got), jsonNormalize(want)) {
			return false
		}
	}
	return true
}

func jsonNormalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
