package weaviate

import (
	"math"
	"testing"

	"github.com/weaviate/weaviate/entities/models"

	"github.com/vietddude/mediagate/internal/infra/vector"
)

func response(objects ...map[string]interface{}) *models.GraphQLResponse {
	raw := make([]interface{}, len(objects))
	for i, o := range objects {
		raw[i] = o
	}
	return &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{className: raw},
		},
	}
}

func TestParseMatchesMapsCertaintyToCosine(t *testing.T) {
	resp := response(map[string]interface{}{
		"externalId":  "v1",
		"metadata":    `{"format":"mp4"}`,
		"_additional": map[string]interface{}{"certainty": 0.9},
	})

	matches, err := parseMatches(resp, vector.Query{Metric: vector.MetricCosine}, 10)
	if err != nil {
		t.Fatalf("parseMatches failed: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "v1" {
		t.Fatalf("matches = %#v", matches)
	}
	// certainty 0.9 corresponds to cosine 0.8
	if math.Abs(matches[0].Score-0.8) > 1e-9 {
		t.Errorf("score = %v, want 0.8", matches[0].Score)
	}
	if matches[0].Metadata["format"] != "mp4" {
		t.Errorf("metadata = %#v", matches[0].Metadata)
	}
}

func TestParseMatchesMapsDistanceToEuclidean(t *testing.T) {
	resp := response(map[string]interface{}{
		"externalId":  "v1",
		"_additional": map[string]interface{}{"distance": 4.0, "certainty": 0.5},
	})

	matches, err := parseMatches(resp, vector.Query{Metric: vector.MetricEuclidean}, 10)
	if err != nil {
		t.Fatalf("parseMatches failed: %v", err)
	}
	if math.Abs(matches[0].Score-0.2) > 1e-9 {
		t.Errorf("score = %v, want 1/(1+4)", matches[0].Score)
	}
}

func TestParseMatchesAppliesFilterAndTopK(t *testing.T) {
	resp := response(
		map[string]interface{}{"externalId": "a", "metadata": `{"kind":"video"}`},
		map[string]interface{}{"externalId": "b", "metadata": `{"kind":"thumb"}`},
		map[string]interface{}{"externalId": "c", "metadata": `{"kind":"video"}`},
		map[string]interface{}{"externalId": "d", "metadata": `{"kind":"video"}`},
	)

	matches, err := parseMatches(resp, vector.Query{
		Filter: map[string]any{"kind": "video"},
		Metric: vector.MetricCosine,
	}, 2)
	if err != nil {
		t.Fatalf("parseMatches failed: %v", err)
	}
	if len(matches) != 2 || matches[0].ID != "a" || matches[1].ID != "c" {
		t.Errorf("matches = %#v, want a then c", matches)
	}
}

func TestParseMatchesSurfacesQueryErrors(t *testing.T) {
	resp := &models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "class not found"}},
	}
	if _, err := parseMatches(resp, vector.Query{}, 10); err == nil {
		t.Error("expected error from response errors")
	}
}

func TestObjectIDDeterministic(t *testing.T) {
	a := objectID("videos", "v1")
	b := objectID("videos", "v1")
	c := objectID("thumbs", "v1")
	if a != b {
		t.Error("same namespace and id must map to the same object id")
	}
	if a == c {
		t.Error("different namespaces must map to different object ids")
	}
}
