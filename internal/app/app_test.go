package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"spotalert_backend/internal/alert"
	"spotalert_backend/internal/config"
	"spotalert_backend/internal/device"
	"spotalert_backend/internal/geo"
	"spotalert_backend/internal/geofence"
	"spotalert_backend/internal/jobs"
	"spotalert_backend/internal/ledger"
	"spotalert_backend/internal/platform/clock"
	"spotalert_backend/internal/proximity"
	"spotalert_backend/internal/push"
	"spotalert_backend/internal/target"
	"spotalert_backend/internal/tracker"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePush records alerts and wake-ups.
type fakePush struct {
	mu     sync.Mutex
	alerts []push.Message
	wakes  []string
}

func (f *fakePush) Send(_ context.Context, msg push.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, msg)
	return nil
}

func (f *fakePush) WakeForFix(_ context.Context, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakes = append(f.wakes, requestID)
	return nil
}

func (f *fakePush) wakeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.wakes)
}

func (f *fakePush) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

var (
	pikeOrigin   = geo.Coordinate{Lat: 47.6097, Lon: -122.3422}
	needleOrigin = geo.Coordinate{Lat: 47.6205, Lon: -122.3493}
)

type testApp struct {
	router     *gin.Engine
	pipeline   *Pipeline
	ledger     *ledger.Ledger
	dispatcher *alert.Dispatcher
	push       *fakePush
}

// newTestApp wires the service the same way the injector does, with a
// sqlite file database and a recording push client.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	cfg := &config.Config{
		GinMode:                  "test",
		DBDriver:                 "sqlite",
		DBSource:                 filepath.Join(t.TempDir(), "app.db"),
		EntryRadiusMeters:        25,
		ExitRadiusMeters:         35,
		AccuracyFactor:           1,
		GeofenceRadiusMeters:     100,
		DetectionThresholdMeters: 50,
		DetectionCooldown:        5 * time.Minute,
		NotificationCooldown:     time.Hour,
		LedgerCapacity:           100,
		TargetSource:             "database",
	}

	db, cleanup, err := ProvideDatabase(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	clk := clock.New()
	tuning, err := ProvideTuning(cfg, logger)
	require.NoError(t, err)

	source := target.NewGORMSource(db)
	require.NoError(t, source.Upsert(context.Background(), []target.Target{
		{ID: "pike", Name: "Pike Place Market", Coordinate: pikeOrigin},
		{ID: "needle", Name: "Space Needle", Coordinate: needleOrigin},
	}))
	registry := target.NewRegistry(source, clk, logger)

	fp := &fakePush{}
	l := ProvideLedger(ledger.NewGORMRepository(db), cfg, clk, logger)
	dispatcher := alert.NewDispatcher(fp, l, ProvideCooldownStore(nil), alert.NewGORMCompletionStore(db), tuning, clk, logger)
	regions := device.NewRegionBook(clk, logger)
	fixes := device.NewFixBroker(fp, clk, logger)
	coordinator := ProvideCoordinator(registry, regions, fixes, dispatcher, geofence.NewGORMMarkerStore(db), tuning, clk, logger)
	tr := tracker.New(registry, tuning, clk, logger)
	pipeline := NewPipeline(cfg, registry, tr, coordinator, dispatcher, l, tuning, logger)

	handlers := Handlers{
		Targets:       target.NewHandler(registry, logger),
		Tuning:        proximity.NewHandler(tuning, logger),
		Tracker:       tracker.NewHandler(tr, registry, logger),
		Geofence:      geofence.NewHandler(coordinator, logger),
		Device:        ProvideDeviceHandler(regions, fixes, coordinator, logger),
		Alerts:        alert.NewHandler(dispatcher, logger),
		Notifications: ledger.NewHandler(l, clk, logger),
	}
	server := NewServer(cfg, logger, handlers, pipeline, jobs.NewTargetRefreshJob(registry, logger, cfg))

	require.NoError(t, pipeline.Start(context.Background()))
	t.Cleanup(pipeline.Stop)

	return &testApp{router: server.Router(), pipeline: pipeline, ledger: l, dispatcher: dispatcher, push: fp}
}

func (a *testApp) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	a.router.ServeHTTP(w, req)
	return w
}

func locationBody(c geo.Coordinate, accuracy float64) string {
	return fmt.Sprintf(`{"samples":[{"lat":%f,"lon":%f,"accuracy":%f}]}`, c.Lat, c.Lon, accuracy)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "spotalert_")

	w = app.do(http.MethodGet, "/api/v1/targets", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pike"`)
}

func TestPipeline_ForegroundArrivalIsNotifiedOnce(t *testing.T) {
	app := newTestApp(t)

	near := geo.Offset(pikeOrigin, 10, 0)
	for i := 0; i < 3; i++ {
		w := app.do(http.MethodPost, "/api/v1/locations", locationBody(near, 5))
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	}

	require.Eventually(t, func() bool { return len(app.ledger.List()) == 1 }, 3*time.Second, 20*time.Millisecond)

	// Leave and come back inside the cooldown window.
	w := app.do(http.MethodPost, "/api/v1/locations", locationBody(geo.Offset(pikeOrigin, 200, 0), 5))
	require.Equal(t, http.StatusAccepted, w.Code)
	w = app.do(http.MethodPost, "/api/v1/locations", locationBody(near, 5))
	require.Equal(t, http.StatusAccepted, w.Code)

	assert.Never(t, func() bool { return len(app.ledger.List()) > 1 }, 300*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, 1, app.push.alertCount())

	w = app.do(http.MethodGet, "/api/v1/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"unread_count":1`)
	assert.Contains(t, w.Body.String(), "Pike Place Market is nearby")
}

func TestPipeline_ManualSelectionDoesNotNotify(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodPost, "/api/v1/tracker/select/needle", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Never(t, func() bool { return app.push.alertCount() > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestPipeline_BackgroundDetection(t *testing.T) {
	app := newTestApp(t)

	require.Eventually(t, func() bool {
		w := app.do(http.MethodGet, "/api/v1/geofence/regions", "")
		return strings.Contains(w.Body.String(), `"needle"`)
	}, 3*time.Second, 20*time.Millisecond, "regions registered")

	w := app.do(http.MethodPost, "/api/v1/geofence/entries", `{"region_id":"needle"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		return app.do(http.MethodGet, "/api/v1/geofence/fixes/pending", "").Code == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond, "fix requested")

	fix := geo.Offset(needleOrigin, 20, 0)
	w = app.do(http.MethodPost, "/api/v1/geofence/fixes", fmt.Sprintf(`{"lat":%f,"lon":%f,"accuracy":8}`, fix.Lat, fix.Lon))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Eventually(t, func() bool { return len(app.ledger.List()) == 1 }, 3*time.Second, 20*time.Millisecond)
	rec := app.ledger.List()[0]
	require.NotNil(t, rec.TargetID)
	assert.Equal(t, "needle", *rec.TargetID)
}

func TestPipeline_CompletionClosesBothPaths(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodPost, "/api/v1/targets/pike/complete", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = app.do(http.MethodPost, "/api/v1/locations", locationBody(geo.Offset(pikeOrigin, 5, 0), 5))
	require.Equal(t, http.StatusAccepted, w.Code)

	assert.Never(t, func() bool { return app.push.alertCount() > 0 }, 300*time.Millisecond, 20*time.Millisecond)
	assert.True(t, app.dispatcher.IsCompleted("pike"))

	assert.Eventually(t, func() bool {
		w := app.do(http.MethodGet, "/api/v1/geofence/detections", "")
		return w.Code == http.StatusOK && strings.Contains(w.Body.String(), `"pike"`)
	}, time.Second, 20*time.Millisecond)
}

func TestPipeline_EntryAcceptedRightAfterStart(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodPost, "/api/v1/geofence/entries", `{"region_id":"needle"}`)
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
}

func TestPipeline_PermissionRevokedStopsWakeups(t *testing.T) {
	app := newTestApp(t)

	require.Eventually(t, func() bool {
		w := app.do(http.MethodGet, "/api/v1/geofence/status", "")
		return strings.Contains(w.Body.String(), `"regions":2`)
	}, 3*time.Second, 20*time.Millisecond, "regions registered")

	w := app.do(http.MethodPost, "/api/v1/geofence/permission", `{"granted":false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = app.do(http.MethodGet, "/api/v1/geofence/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"disabled":true`)
	assert.Contains(t, w.Body.String(), `"regions":0`)

	w = app.do(http.MethodPost, "/api/v1/geofence/entries", `{"region_id":"pike"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Never(t, func() bool { return app.push.wakeCount() > 0 }, 200*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, http.StatusNoContent, app.do(http.MethodGet, "/api/v1/geofence/fixes/pending", "").Code)

	w = app.do(http.MethodPost, "/api/v1/geofence/permission", `{"granted":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Eventually(t, func() bool {
		w := app.do(http.MethodGet, "/api/v1/geofence/status", "")
		return strings.Contains(w.Body.String(), `"disabled":false`) && strings.Contains(w.Body.String(), `"regions":2`)
	}, 3*time.Second, 20*time.Millisecond)
}
