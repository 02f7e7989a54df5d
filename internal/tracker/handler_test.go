package tracker

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTrackerRouter(ts *TrackerTestSuite) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(ts.tracker, ts.registry, zap.NewNop()).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func doJSON(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_PostLocations(t *testing.T) {
	ts := setupTrackerTestSuite(t, 0, spot("A", origin))
	router := setupTrackerRouter(ts)

	body := `{"samples": [{"lat": 47.6097, "lon": -122.3422, "accuracy": 8}]}`
	w := doJSON(router, http.MethodPost, "/api/v1/locations", body)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, Entered, recv(t, ts.events).Kind)

	w = doJSON(router, http.MethodGet, "/api/v1/tracker/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data StateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Inside)
	require.NotNil(t, resp.Data.Target)
	assert.Equal(t, "A", resp.Data.Target.ID)
	require.NotNil(t, resp.Data.LastSample)
	assert.Equal(t, 8.0, resp.Data.LastSample.Accuracy)
}

func TestHandler_PostLocations_Invalid(t *testing.T) {
	ts := setupTrackerTestSuite(t, 0, spot("A", origin))
	router := setupTrackerRouter(ts)

	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "no samples", body: `{"samples": []}`, code: http.StatusUnprocessableEntity},
		{name: "latitude out of range", body: `{"samples": [{"lat": 95, "lon": 0}]}`, code: http.StatusUnprocessableEntity},
		{name: "missing longitude", body: `{"samples": [{"lat": 1}]}`, code: http.StatusUnprocessableEntity},
		{name: "negative accuracy", body: `{"samples": [{"lat": 1, "lon": 1, "accuracy": -3}]}`, code: http.StatusUnprocessableEntity},
		{name: "not json", body: `samples`, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/api/v1/locations", tt.body)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestHandler_SelectAndDeselect(t *testing.T) {
	ts := setupTrackerTestSuite(t, 0, spot("A", origin))
	router := setupTrackerRouter(ts)

	w := doJSON(router, http.MethodPost, "/api/v1/tracker/select/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/tracker/select/A", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []EventResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, Entered, resp.Data[0].Kind)
	assert.True(t, resp.Data[0].Forced)
	recv(t, ts.events)

	w = doJSON(router, http.MethodPost, "/api/v1/tracker/deselect", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Exited, recv(t, ts.events).Kind)
}

func TestHandler_StreamEvents(t *testing.T) {
	ts := setupTrackerTestSuite(t, 0, spot("A", origin))
	srv := httptest.NewServer(setupTrackerRouter(ts))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/tracker/events", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	// The test suite holds one subscription; wait for the stream's.
	require.Eventually(t, func() bool { return ts.tracker.SubscriberCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	_, err = ts.tracker.ForceSelect(context.Background(), spot("A", origin))
	require.NoError(t, err)

	scanner := bufio.NewScanner(res.Body)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" && len(lines) > 0 {
			break
		}
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "event:entered", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "data:"))
	assert.Contains(t, lines[1], `"target_id":"A"`)
}
