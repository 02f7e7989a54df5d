package device

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"spotalert_backend/internal/geo"
	"spotalert_backend/internal/geofence"
	"spotalert_backend/internal/platform/clock"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// MockWaker is a mock type for push.Waker
type MockWaker struct {
	mock.Mock
}

func (m *MockWaker) WakeForFix(ctx context.Context, requestID string) error {
	args := m.Called(ctx, requestID)
	return args.Error(0)
}

func TestRegionBook_RefusesWhenDenied(t *testing.T) {
	book := NewRegionBook(clock.NewMockClock(fixedNow), zap.NewNop())
	regions := []geofence.Region{{ID: "A", Radius: 100}}

	require.NoError(t, book.ReplaceRegions(context.Background(), regions))
	set := book.Regions()
	assert.Equal(t, uint64(1), set.Version)
	assert.Len(t, set.Regions, 1)

	assert.True(t, book.SetPermission(false))
	assert.False(t, book.SetPermission(false))
	assert.Empty(t, book.Regions().Regions, "denial clears the registration")

	err := book.ReplaceRegions(context.Background(), regions)
	assert.ErrorIs(t, err, geofence.ErrPermissionDenied)

	assert.True(t, book.SetPermission(true))
	assert.NoError(t, book.ReplaceRegions(context.Background(), regions))
	assert.Equal(t, PermissionGranted, book.Permission())
}

func waitPending(t *testing.T, b *FixBroker) PendingRequest {
	t.Helper()
	var p PendingRequest
	require.Eventually(t, func() bool {
		var ok bool
		p, ok = b.Pending()
		return ok
	}, time.Second, 5*time.Millisecond)
	return p
}

func TestFixBroker_RequestAndDeliver(t *testing.T) {
	waker := new(MockWaker)
	waker.On("WakeForFix", mock.Anything, mock.AnythingOfType("string")).Return(nil).Once()
	broker := NewFixBroker(waker, clock.NewMockClock(fixedNow), zap.NewNop())

	type result struct {
		fix geofence.Fix
		err error
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fix, err := broker.RequestFix(context.Background())
			results <- result{fix, err}
		}()
	}

	p := waitPending(t, broker)
	require.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return broker.pending != nil && broker.pending.waiters == 2
	}, time.Second, 5*time.Millisecond, "second waiter joins the outstanding request")
	want := geo.Coordinate{Lat: 47.6, Lon: -122.3}
	require.NoError(t, broker.Deliver(p.ID, geofence.Fix{Coordinate: want, Accuracy: 6}))
	wg.Wait()
	close(results)

	for r := range results {
		require.NoError(t, r.err)
		assert.Equal(t, want, r.fix.Coordinate)
		assert.Equal(t, fixedNow, r.fix.Timestamp)
	}
	waker.AssertNumberOfCalls(t, "WakeForFix", 1)
	_, ok := broker.Pending()
	assert.False(t, ok)
}

func TestFixBroker_WakeFailure(t *testing.T) {
	waker := new(MockWaker)
	waker.On("WakeForFix", mock.Anything, mock.Anything).Return(errors.New("fcm unavailable"))
	broker := NewFixBroker(waker, clock.NewMockClock(fixedNow), zap.NewNop())

	_, err := broker.RequestFix(context.Background())
	assert.ErrorIs(t, err, ErrFixUnavailable)
	_, ok := broker.Pending()
	assert.False(t, ok)
}

func TestFixBroker_CancelAbandonsRequest(t *testing.T) {
	waker := new(MockWaker)
	waker.On("WakeForFix", mock.Anything, mock.Anything).Return(nil)
	broker := NewFixBroker(waker, clock.NewMockClock(fixedNow), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := broker.RequestFix(ctx)
		errs <- err
	}()
	p := waitPending(t, broker)
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)

	assert.ErrorIs(t, broker.Deliver(p.ID, geofence.Fix{}), ErrUnknownRequest)
}

func TestFixBroker_DeliverWrongID(t *testing.T) {
	waker := new(MockWaker)
	waker.On("WakeForFix", mock.Anything, mock.Anything).Return(nil)
	broker := NewFixBroker(waker, clock.NewMockClock(fixedNow), zap.NewNop())

	assert.ErrorIs(t, broker.Deliver("", geofence.Fix{}), ErrUnknownRequest)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go broker.RequestFix(ctx)
	waitPending(t, broker)
	assert.ErrorIs(t, broker.Deliver("00000000-0000-0000-0000-000000000000", geofence.Fix{}), ErrUnknownRequest)
	assert.NoError(t, broker.Deliver("", geofence.Fix{}), "empty id answers the outstanding request")
}

func setupDeviceRouter(book *RegionBook, broker *FixBroker, onGranted, onDenied func()) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(book, broker, onGranted, onDenied, zap.NewNop()).RegisterRoutes(r.Group("/api/v1/geofence"))
	return r
}

func postJSON(router http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_PermissionAndRegions(t *testing.T) {
	book := NewRegionBook(clock.NewMockClock(fixedNow), zap.NewNop())
	granted, denied := 0, 0
	router := setupDeviceRouter(book, NewFixBroker(new(MockWaker), clock.NewMockClock(fixedNow), zap.NewNop()),
		func() { granted++ }, func() { denied++ })

	w := postJSON(router, "/api/v1/geofence/permission", `{"granted": false}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, PermissionDenied, book.Permission())
	assert.Zero(t, granted)
	assert.Equal(t, 1, denied)

	w = postJSON(router, "/api/v1/geofence/permission", `{"granted": false}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, denied, "an unchanged report does not call back")

	w = postJSON(router, "/api/v1/geofence/permission", `{"granted": true}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, granted)

	w = postJSON(router, "/api/v1/geofence/permission", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	require.NoError(t, book.ReplaceRegions(context.Background(), []geofence.Region{{ID: "A", Radius: 100}}))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/geofence/regions", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"A"`)
	assert.Contains(t, w.Body.String(), `"permission":"granted"`)
}

func TestHandler_PendingAndPostFix(t *testing.T) {
	waker := new(MockWaker)
	waker.On("WakeForFix", mock.Anything, mock.Anything).Return(nil)
	broker := NewFixBroker(waker, clock.NewMockClock(fixedNow), zap.NewNop())
	router := setupDeviceRouter(NewRegionBook(clock.NewMockClock(fixedNow), zap.NewNop()), broker, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/geofence/fixes/pending", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = postJSON(router, "/api/v1/geofence/fixes", `{"lat": 47.6, "lon": -122.3, "accuracy": 5}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	fixes := make(chan geofence.Fix, 1)
	go func() {
		fix, err := broker.RequestFix(context.Background())
		if err == nil {
			fixes <- fix
		}
	}()
	p := waitPending(t, broker)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/geofence/fixes/pending", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), p.ID)

	w = postJSON(router, "/api/v1/geofence/fixes", `{"request_id": "`+p.ID+`", "lat": 47.6, "lon": -122.3, "accuracy": 5}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	select {
	case fix := <-fixes:
		assert.Equal(t, 5.0, fix.Accuracy)
	case <-time.After(2 * time.Second):
		t.Fatal("fix not delivered")
	}
}
