package target

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestESClient(t *testing.T, handler http.HandlerFunc) *elasticsearch.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client
}

func TestElasticsearchSource_FetchActiveTargets(t *testing.T) {
	var gotPath, gotBody string
	client := newTestESClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, `{
			"hits": {"hits": [
				{"_source": {"id": "needle", "name": "Space Needle", "location": {"lat": 47.6205, "lon": -122.3493}, "active": true}},
				{"_source": {"id": "pike", "name": "Pike Place Market", "location": {"lat": 47.6097, "lon": -122.3422}, "category": "market", "active": true}}
			]}
		}`)
	})

	src := NewElasticsearchSource(client, "spots")
	got, err := src.FetchActiveTargets(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/spots/_search", gotPath)
	var query map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(gotBody), &query))
	assert.True(t, strings.Contains(gotBody, `"active":true`))

	require.Len(t, got, 2)
	assert.Equal(t, "needle", got[0].ID)
	assert.InDelta(t, -122.3493, got[0].Coordinate.Lon, 1e-9)
	assert.Nil(t, got[0].Category)
	assert.Equal(t, "market", got[1].CategoryOrEmpty())
}

func TestElasticsearchSource_ErrorStatus(t *testing.T) {
	client := newTestESClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error": {"type": "index_not_found_exception"}, "status": 404}`)
	})

	src := NewElasticsearchSource(client, "missing")
	got, err := src.FetchActiveTargets(context.Background())
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestToDocument(t *testing.T) {
	doc := ToDocument(seattleTargets()[0])
	assert.Equal(t, "pike", doc.ID)
	assert.True(t, doc.Active)
	assert.Equal(t, 47.6097, doc.Location.Lat)
}
