// Package weaviate implements the primary vector search client.
package weaviate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/vietddude/mediagate/internal/infra/vector"
)

const className = "MediaEmbedding"

// Client wraps the remote vector index.
// Implements vector.Client.
type Client struct {
	client *weaviate.Client
}

// New creates a client for the index at url (scheme://host).
func New(url, apiKey string) (*Client, error) {
	cfg := weaviate.Config{Scheme: "http", Host: url}
	if strings.Contains(url, "://") {
		parts := strings.SplitN(url, "://", 2)
		cfg.Scheme, cfg.Host = parts[0], parts[1]
	}
	if apiKey != "" {
		cfg.Headers = map[string]string{"Authorization": "Bearer " + apiKey}
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &Client{client: client}, nil
}

// Close is a no-op; the underlying client holds no persistent connections.
func (c *Client) Close() error {
	return nil
}

// Health reports whether the remote index answers its readiness check.
func (c *Client) Health(ctx context.Context) error {
	ready, err := c.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("vector index health check failed: %w", err)
	}
	if !ready {
		return fmt.Errorf("vector index not ready")
	}
	return nil
}

// objectID derives the stored object id from the caller's id, so repeated
// upserts of the same id replace the previous object.
func objectID(namespace, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespace+"/"+id)).String()
}

// Upsert stores vectors, replacing existing ids within the same namespace.
func (c *Client) Upsert(ctx context.Context, vectors []vector.Vector) (int, error) {
	count := 0
	for _, v := range vectors {
		meta := ""
		if len(v.Metadata) > 0 {
			b, err := json.Marshal(v.Metadata)
			if err != nil {
				return count, fmt.Errorf("encoding vector metadata: %w", err)
			}
			meta = string(b)
		}

		// Deleting first makes the write an upsert; Creator alone fails
		// on an existing id.
		_ = c.client.Data().Deleter().
			WithClassName(className).
			WithID(objectID(v.Namespace, v.ID)).
			Do(ctx)

		_, err := c.client.Data().Creator().
			WithClassName(className).
			WithID(objectID(v.Namespace, v.ID)).
			WithProperties(map[string]interface{}{
				"externalId": v.ID,
				"namespace":  v.Namespace,
				"metadata":   meta,
			}).
			WithVector(v.Values).
			Do(ctx)
		if err != nil {
			return count, fmt.Errorf("storing vector %s: %w", v.ID, err)
		}
		count++
	}
	return count, nil
}

// Fetch returns stored vectors by id. Unknown ids are skipped.
func (c *Client) Fetch(ctx context.Context, namespace string, ids []string) ([]vector.Vector, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	out := make([]vector.Vector, 0, len(ids))
	for _, id := range ids {
		objs, err := c.client.Data().ObjectsGetter().
			WithClassName(className).
			WithID(objectID(namespace, id)).
			WithVector().
			Do(ctx)
		if err != nil || len(objs) == 0 {
			continue
		}

		obj := objs[0]
		v := vector.Vector{ID: id, Namespace: namespace, Values: obj.Vector}
		if props, ok := obj.Properties.(map[string]interface{}); ok {
			if meta, _ := props["metadata"].(string); meta != "" {
				if err := json.Unmarshal([]byte(meta), &v.Metadata); err != nil {
					return nil, fmt.Errorf("decoding metadata for %s: %w", id, err)
				}
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// Delete removes vectors by id, returning how many existed.
func (c *Client) Delete(ctx context.Context, namespace string, ids []string) (int, error) {
	count := 0
	for _, id := range ids {
		err := c.client.Data().Deleter().
			WithClassName(className).
			WithID(objectID(namespace, id)).
			Do(ctx)
		if err == nil {
			count++
		}
	}
	return count, nil
}

// DeleteAll removes every vector in the namespace with one batch delete.
func (c *Client) DeleteAll(ctx context.Context, namespace string) (int, error) {
	where := filters.Where().
		WithPath([]string{"namespace"}).
		WithOperator(filters.Equal).
		WithValueText(namespace)

	resp, err := c.client.Batch().ObjectsBatchDeleter().
		WithClassName(className).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("deleting namespace %s: %w", namespace, err)
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	return int(resp.Results.Successful), nil
}

// Search returns the TopK nearest stored vectors.
func (c *Client) Search(ctx context.Context, q vector.Query) ([]vector.Match, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}

	nearVector := c.client.GraphQL().NearVectorArgBuilder().WithVector(q.Values)

	fields := []graphql.Field{
		{Name: "externalId"},
		{Name: "metadata"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
			{Name: "distance"},
		}},
	}

	where := filters.Where().
		WithPath([]string{"namespace"}).
		WithOperator(filters.Equal).
		WithValueString(q.Namespace)

	// Metadata is filtered after retrieval, so over-fetch when a filter
	// is present.
	limit := topK
	if len(q.Filter) > 0 {
		limit = topK * 4
	}

	result, err := c.client.GraphQL().Get().
		WithClassName(className).
		WithFields(fields...).
		WithWhere(where).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return parseMatches(result, q, topK)
}

// parseMatches converts a GraphQL response to matches, applying the
// metadata filter and the TopK bound.
func parseMatches(result *models.GraphQLResponse, q vector.Query, topK int) ([]vector.Match, error) {
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("vector search error: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	objects, ok := data[className].([]interface{})
	if !ok {
		return nil, nil
	}

	var matches []vector.Match
	for _, raw := range objects {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}

		m := vector.Match{}
		m.ID, _ = obj["externalId"].(string)
		if metaStr, _ := obj["metadata"].(string); metaStr != "" {
			if err := json.Unmarshal([]byte(metaStr), &m.Metadata); err != nil {
				continue
			}
		}
		if !vector.MatchesFilter(m.Metadata, q.Filter) {
			continue
		}

		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			m.Score = scoreFromAdditional(q.Metric, additional)
		}

		matches = append(matches, m)
		if len(matches) == topK {
			break
		}
	}
	return matches, nil
}

// scoreFromAdditional maps the engine's certainty/distance onto the same
// scale the fallback index produces, so rankings stay comparable across
// failover.
func scoreFromAdditional(metric vector.Metric, additional map[string]interface{}) float64 {
	if metric == vector.MetricEuclidean {
		if d, ok := additional["distance"].(float64); ok {
			return 1 / (1 + d)
		}
	}
	if certainty, ok := additional["certainty"].(float64); ok {
		// certainty = (1 + cosine) / 2
		return 2*certainty - 1
	}
	return 0
}

