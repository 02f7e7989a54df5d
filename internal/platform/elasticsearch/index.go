package elasticsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

// TargetDocument is the indexed form of a target.
type TargetDocument struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Location GeoPoint `json:"location"`
	Category *string  `json:"category,omitempty"`
	Active   bool     `json:"active"`
}

// GeoPoint matches the Elasticsearch geo_point object form.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func targetsMapping() string {
	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"id":       map[string]interface{}{"type": "keyword"},
				"name":     map[string]interface{}{"type": "text", "fields": map[string]interface{}{"keyword": map[string]interface{}{"type": "keyword", "ignore_above": 256}}},
				"location": map[string]interface{}{"type": "geo_point"},
				"category": map[string]interface{}{"type": "keyword"},
				"active":   map[string]interface{}{"type": "boolean"},
			},
		},
	}
	b, _ := json.Marshal(mapping)
	return string(b)
}

// CreateTargetsIndexIfNotExists creates the targets index with a geo_point
// mapping if it does not already exist.
func CreateTargetsIndexIfNotExists(ctx context.Context, client *ESClientWrapper, index string, logger *zap.Logger) error {
	log := logger.Named("elasticsearch_index_setup")

	res, err := esapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, client.Client)
	if err != nil {
		return fmt.Errorf("error checking if index %s exists: %w", index, err)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusOK {
		log.Info("Targets index already exists", zap.String("index_name", index))
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("error checking if index %s exists: status %s", index, res.Status())
	}

	createRes, err := esapi.IndicesCreateRequest{
		Index: index,
		Body:  strings.NewReader(targetsMapping()),
	}.Do(ctx, client.Client)
	if err != nil {
		return fmt.Errorf("error creating index %s: %w", index, err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		var errorBody map[string]interface{}
		_ = json.NewDecoder(createRes.Body).Decode(&errorBody)
		log.Error("Failed to create targets index",
			zap.String("status", createRes.Status()),
			zap.Any("error_details", errorBody),
			zap.String("index_name", index),
		)
		return fmt.Errorf("failed to create index %s: status %s", index, createRes.Status())
	}

	log.Info("Targets index created successfully", zap.String("index_name", index))
	return nil
}

// BulkIndexTargets writes docs to the index in a single bulk request and
// returns how many items failed.
func BulkIndexTargets(ctx context.Context, client *ESClientWrapper, index string, docs []TargetDocument, logger *zap.Logger) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	var body strings.Builder
	for _, d := range docs {
		meta, _ := json.Marshal(map[string]interface{}{"index": map[string]string{"_index": index, "_id": d.ID}})
		doc, err := json.Marshal(d)
		if err != nil {
			return len(docs), fmt.Errorf("encoding target %s: %w", d.ID, err)
		}
		body.Write(meta)
		body.WriteByte('\n')
		body.Write(doc)
		body.WriteByte('\n')
	}

	res, err := esapi.BulkRequest{Body: strings.NewReader(body.String()), Refresh: "wait_for"}.Do(ctx, client.Client)
	if err != nil {
		return len(docs), fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return len(docs), fmt.Errorf("bulk request returned %s", res.Status())
	}

	var bulkResponse struct {
		Errors bool `json:"errors"`
		Items  []struct {
			Index struct {
				ID     string                 `json:"_id"`
				Status int                    `json:"status"`
				Error  map[string]interface{} `json:"error,omitempty"`
			} `json:"index"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResponse); err != nil {
		return len(docs), fmt.Errorf("decoding bulk response: %w", err)
	}
	failed := 0
	for _, item := range bulkResponse.Items {
		if item.Index.Error != nil {
			failed++
			logger.Error("Failed to index target",
				zap.String("targetID", item.Index.ID),
				zap.Int("status", item.Index.Status),
				zap.Any("error", item.Index.Error),
			)
		}
	}
	return failed, nil
}
