package target

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"spotalert_backend/internal/geo"
	platformElasticsearch "spotalert_backend/internal/platform/elasticsearch"

	"github.com/elastic/go-elasticsearch/v8"
)

// maxIndexedTargets bounds a single fetch; the target list is expected to be
// a few thousand spots at most.
const maxIndexedTargets = 10000

// ElasticsearchSource reads active targets from a search index.
type ElasticsearchSource struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticsearchSource creates an index-backed target source.
func NewElasticsearchSource(client *elasticsearch.Client, index string) *ElasticsearchSource {
	return &ElasticsearchSource{client: client, index: index}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source platformElasticsearch.TargetDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// FetchActiveTargets runs a filter query for active documents.
func (s *ElasticsearchSource) FetchActiveTargets(ctx context.Context) ([]Target, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"active": true}},
				},
			},
		},
		"sort": []interface{}{map[string]interface{}{"id": "asc"}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("encoding target query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
		s.client.Search.WithSize(maxIndexedTargets),
	)
	if err != nil {
		return nil, fmt.Errorf("searching index %s: %w", s.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("searching index %s: %s", s.index, res.Status())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	targets := make([]Target, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		d := hit.Source
		targets = append(targets, Target{
			ID:         d.ID,
			Name:       d.Name,
			Coordinate: geo.Coordinate{Lat: d.Location.Lat, Lon: d.Location.Lon},
			Category:   d.Category,
		})
	}
	return targets, nil
}

// ToDocument converts a target into its index document.
func ToDocument(t Target) platformElasticsearch.TargetDocument {
	return platformElasticsearch.TargetDocument{
		ID:       t.ID,
		Name:     t.Name,
		Location: platformElasticsearch.GeoPoint{Lat: t.Coordinate.Lat, Lon: t.Coordinate.Lon},
		Category: t.Category,
		Active:   true,
	}
}
