package alert

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"spotalert_backend/internal/geo"
	"spotalert_backend/internal/geofence"
	"spotalert_backend/internal/ledger"
	"spotalert_backend/internal/platform/clock"
	"spotalert_backend/internal/proximity"
	"spotalert_backend/internal/push"
	"spotalert_backend/internal/target"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MockSender is a mock type for push.Sender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg push.Message) error {
	return m.Called(ctx, msg).Error(0)
}

type recordingRecorder struct {
	mu      sync.Mutex
	records []ledger.Record
	err     error
}

func (r *recordingRecorder) Append(_ context.Context, rec ledger.Record) (ledger.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return ledger.Record{}, r.err
	}
	r.records = append(r.records, rec)
	return rec, nil
}

func (r *recordingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type DispatcherTestSuite struct {
	dispatcher *Dispatcher
	sender     *MockSender
	recorder   *recordingRecorder
	clock      *clock.MockClock
	tuning     *proximity.Tuning
	db         *gorm.DB
}

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "alert.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&CompletionMarker{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func setupDispatcherTestSuite(t *testing.T) *DispatcherTestSuite {
	ts := &DispatcherTestSuite{}
	ts.sender = new(MockSender)
	ts.recorder = &recordingRecorder{}
	ts.clock = clock.NewMockClock(fixedNow)
	ts.db = newTestDB(t)

	tuning, err := proximity.NewTuning(proximity.Settings{
		EntryRadius:          25,
		ExitRadius:           35,
		AccuracyFactor:       1,
		DetectionThreshold:   50,
		DetectionCooldown:    5 * time.Minute,
		NotificationCooldown: time.Hour,
		GeofenceRadius:       100,
	}, zap.NewNop())
	require.NoError(t, err)
	ts.tuning = tuning

	ts.dispatcher = NewDispatcher(ts.sender, ts.recorder, NewMemoryCooldownStore(), NewGORMCompletionStore(ts.db), tuning, ts.clock, zap.NewNop())
	return ts
}

func pike() target.Target {
	category := "market"
	return target.Target{ID: "pike", Name: "Pike Place Market", Coordinate: geo.Coordinate{Lat: 47.6097, Lon: -122.3422}, Category: &category}
}

func TestDispatcher_NotifyWithinCooldownDispatchesOnce(t *testing.T) {
	ts := setupDispatcherTestSuite(t)
	ctx := context.Background()
	ts.sender.On("Send", ctx, mock.AnythingOfType("push.Message")).Return(nil)

	outcome, err := ts.dispatcher.Notify(ctx, pike(), 12, 5)
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)

	for i := 0; i < 5; i++ {
		ts.clock.Advance(10 * time.Minute)
		outcome, err = ts.dispatcher.Notify(ctx, pike(), 12, 5)
		require.NoError(t, err)
		assert.Equal(t, SuppressedCooldown, outcome)
	}
	assert.Equal(t, 1, ts.recorder.count())
	ts.sender.AssertNumberOfCalls(t, "Send", 1)

	ts.clock.Advance(10 * time.Minute) // 60 minutes after the first alert
	outcome, err = ts.dispatcher.Notify(ctx, pike(), 12, 5)
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)
	assert.Equal(t, 2, ts.recorder.count())
}

func TestDispatcher_RecordContents(t *testing.T) {
	ts := setupDispatcherTestSuite(t)
	ctx := context.Background()
	ts.sender.On("Send", ctx, mock.MatchedBy(func(m push.Message) bool {
		return m.Data["target_id"] == "pike" && m.Title == "Pike Place Market is nearby"
	})).Return(nil)

	_, err := ts.dispatcher.Notify(ctx, pike(), 12.34, 5)
	require.NoError(t, err)

	require.Len(t, ts.recorder.records, 1)
	rec := ts.recorder.records[0]
	assert.Equal(t, ledger.SpotNearby, rec.Type)
	assert.Equal(t, fixedNow, rec.Timestamp)
	assert.Equal(t, "pike", *rec.TargetID)
	assert.Equal(t, "12.3", rec.Metadata["distance_m"])
	assert.Equal(t, "market", rec.Metadata["category"])
	ts.sender.AssertExpectations(t)
}

func TestDispatcher_CompletionGate(t *testing.T) {
	ts := setupDispatcherTestSuite(t)
	ctx := context.Background()
	ts.sender.On("Send", ctx, mock.AnythingOfType("push.Message")).Return(nil)

	var changes []bool
	ts.dispatcher.OnCompletionChange(func(_ context.Context, id string, completed bool) {
		assert.Equal(t, "pike", id)
		changes = append(changes, completed)
	})

	require.NoError(t, ts.dispatcher.MarkCompleted(ctx, "pike"))
	for i := 0; i < 3; i++ {
		ts.clock.Advance(2 * time.Hour)
		outcome, err := ts.dispatcher.Notify(ctx, pike(), 5, 5)
		require.NoError(t, err)
		assert.Equal(t, SuppressedCompleted, outcome)
	}
	assert.Equal(t, 0, ts.recorder.count())
	ts.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	require.NoError(t, ts.dispatcher.ResetCompletion(ctx, "pike"))
	outcome, err := ts.dispatcher.Notify(ctx, pike(), 5, 5)
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)
	assert.Equal(t, []bool{true, false}, changes)
}

func TestDispatcher_CompletionsSurviveRestart(t *testing.T) {
	ts := setupDispatcherTestSuite(t)
	ctx := context.Background()
	require.NoError(t, ts.dispatcher.MarkCompleted(ctx, "pike"))

	restarted := NewDispatcher(ts.sender, ts.recorder, NewMemoryCooldownStore(), NewGORMCompletionStore(ts.db), ts.tuning, ts.clock, zap.NewNop())
	require.NoError(t, restarted.Restore(ctx))
	assert.True(t, restarted.IsCompleted("pike"))
	assert.False(t, restarted.IsCompleted("needle"))
}

func TestDispatcher_SendFailureStartsNoCooldown(t *testing.T) {
	ts := setupDispatcherTestSuite(t)
	ctx := context.Background()
	ts.sender.On("Send", ctx, mock.AnythingOfType("push.Message")).Return(errors.New("unavailable")).Once()
	ts.sender.On("Send", ctx, mock.AnythingOfType("push.Message")).Return(nil).Once()

	outcome, err := ts.dispatcher.Notify(ctx, pike(), 5, 5)
	assert.Error(t, err)
	assert.Equal(t, Failed, outcome)
	assert.Equal(t, 0, ts.recorder.count())

	outcome, err = ts.dispatcher.Notify(ctx, pike(), 5, 5)
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)
	assert.Equal(t, 1, ts.recorder.count())
}

func TestDispatcher_PermissionDeniedDisablesPush(t *testing.T) {
	ts := setupDispatcherTestSuite(t)
	ctx := context.Background()
	ts.sender.On("Send", ctx, mock.AnythingOfType("push.Message")).Return(push.ErrPermissionDenied).Once()
	ts.sender.On("Send", ctx, mock.AnythingOfType("push.Message")).Return(nil)

	outcome, err := ts.dispatcher.Notify(ctx, pike(), 5, 5)
	assert.ErrorIs(t, err, ErrPushDisabled)
	assert.Equal(t, Failed, outcome)
	assert.True(t, ts.dispatcher.PushDisabled())

	_, err = ts.dispatcher.Notify(ctx, pike(), 5, 5)
	assert.ErrorIs(t, err, ErrPushDisabled)
	ts.sender.AssertNumberOfCalls(t, "Send", 1)

	ts.dispatcher.EnablePush()
	outcome, err = ts.dispatcher.Notify(ctx, pike(), 5, 5)
	require.NoError(t, err)
	assert.Equal(t, Dispatched, outcome)
}

func TestDispatcher_LedgerFailureStillStartsCooldown(t *testing.T) {
	ts := setupDispatcherTestSuite(t)
	ctx := context.Background()
	ts.sender.On("Send", ctx, mock.AnythingOfType("push.Message")).Return(nil)
	ts.recorder.err = errors.New("disk full")

	outcome, err := ts.dispatcher.Notify(ctx, pike(), 5, 5)
	assert.Error(t, err)
	assert.Equal(t, Dispatched, outcome)

	outcome, _ = ts.dispatcher.Notify(ctx, pike(), 5, 5)
	assert.Equal(t, SuppressedCooldown, outcome)
}

// slowSender holds every Send long enough for concurrent callers to pile up.
type slowSender struct {
	mu    sync.Mutex
	calls int
}

func (s *slowSender) Send(context.Context, push.Message) error {
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return nil
}

func TestDispatcher_ConcurrentNotifyDispatchesOnce(t *testing.T) {
	ts := setupDispatcherTestSuite(t)
	sender := &slowSender{}
	d := NewDispatcher(sender, ts.recorder, NewMemoryCooldownStore(), NewGORMCompletionStore(ts.db), ts.tuning, ts.clock, zap.NewNop())

	const callers = 8
	outcomes := make(chan Outcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, _ := d.Notify(context.Background(), pike(), 5, 5)
			outcomes <- o
		}()
	}
	wg.Wait()
	close(outcomes)

	dispatched := 0
	for o := range outcomes {
		if o == Dispatched {
			dispatched++
		}
	}
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, 1, ts.recorder.count())
}

func TestDispatcher_DifferentTargetsDoNotBlockEachOther(t *testing.T) {
	ts := setupDispatcherTestSuite(t)
	ctx := context.Background()
	ts.sender.On("Send", ctx, mock.AnythingOfType("push.Message")).Return(nil)

	needle := target.Target{ID: "needle", Name: "Space Needle", Coordinate: geo.Coordinate{Lat: 47.6205, Lon: -122.3493}}
	ts.dispatcher.NotifyDetection(ctx, geofence.Detection{Target: pike(), Distance: 10, Accuracy: 5, At: fixedNow})
	ts.dispatcher.NotifyDetection(ctx, geofence.Detection{Target: needle, Distance: 10, Accuracy: 5, At: fixedNow})
	assert.Equal(t, 2, ts.recorder.count())
}
