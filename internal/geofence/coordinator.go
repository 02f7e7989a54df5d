package geofence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"spotalert_backend/internal/platform/clock"
	"spotalert_backend/internal/platform/metrics"
	"spotalert_backend/internal/proximity"
	"spotalert_backend/internal/target"

	"go.uber.org/zap"
)

// ErrNotRunning is returned when an entry arrives while the loop is stopped.
var ErrNotRunning = errors.New("geofence coordinator not running")

type entryEvent struct {
	regionID string
	at       time.Time
}

type fixEvent struct {
	regionID    string
	requestedAt time.Time
	fix         Fix
	err         error
}

// Coordinator owns the per-target detection records. Geofence callbacks and
// fix results are posted to a single event channel and handled in order by
// Run; precise fixes are requested on their own goroutines so an outstanding
// fix never holds up the next wake-up.
type Coordinator struct {
	targets     Targets
	monitor     Monitor
	provider    LocationProvider
	notifier    Notifier
	completions CompletionChecker
	markers     MarkerStore
	tuning      *proximity.Tuning
	clock       clock.Clock
	logger      *zap.Logger

	entries  chan entryEvent
	fixes    chan fixEvent
	register chan struct{} // coalesced re-registration requests
	running  atomic.Bool

	disabled atomic.Bool

	mu            sync.Mutex
	lastDetection map[string]time.Time

	regionsMu sync.RWMutex
	regions   []Region
}

// NewCoordinator creates a coordinator. notifier may be set later with
// SetNotifier but must be set before Run.
func NewCoordinator(
	targets Targets,
	monitor Monitor,
	provider LocationProvider,
	completions CompletionChecker,
	markers MarkerStore,
	tuning *proximity.Tuning,
	clk clock.Clock,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		targets:       targets,
		monitor:       monitor,
		provider:      provider,
		completions:   completions,
		markers:       markers,
		tuning:        tuning,
		clock:         clk,
		logger:        logger.Named("GeofenceCoordinator"),
		entries:       make(chan entryEvent, 32),
		fixes:         make(chan fixEvent, 32),
		register:      make(chan struct{}, 1),
		lastDetection: make(map[string]time.Time),
	}
}

// SetNotifier sets the receiver of confirmed detections.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.notifier = n
}

// Restore loads persisted detection markers. Failures are logged and the
// coordinator starts with an empty record.
func (c *Coordinator) Restore(ctx context.Context) {
	if c.markers == nil {
		return
	}
	loaded, err := c.markers.Load(ctx)
	if err != nil {
		c.logger.Warn("Could not restore detection markers", zap.Error(err))
		return
	}
	c.mu.Lock()
	for id, at := range loaded {
		c.lastDetection[id] = at
	}
	c.mu.Unlock()
	c.logger.Info("Detection markers restored", zap.Int("count", len(loaded)))
}

// Run handles wake-ups, fix results and re-registrations until ctx is done.
// It waits for outstanding fix requests to observe the cancellation before
// returning.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.notifier == nil {
		return fmt.Errorf("geofence coordinator has no notifier")
	}
	var wg sync.WaitGroup
	c.Open()
	defer func() {
		c.running.Store(false)
		wg.Wait()
	}()

	c.registerRegions(ctx)
	c.logger.Info("Geofence coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Geofence coordinator stopped")
			return ctx.Err()

		case <-c.register:
			c.registerRegions(ctx)

		case ev := <-c.entries:
			metrics.GeofenceWakeupsTotal.Inc()
			if c.disabled.Load() {
				c.logger.Debug("Ignoring region entry while disabled", zap.String("regionID", ev.regionID))
				continue
			}
			wg.Add(1)
			go func(ev entryEvent) {
				defer wg.Done()
				fix, err := c.provider.RequestFix(ctx)
				select {
				case c.fixes <- fixEvent{regionID: ev.regionID, requestedAt: ev.at, fix: fix, err: err}:
				case <-ctx.Done():
				}
			}(ev)

		case ev := <-c.fixes:
			if ev.err != nil {
				metrics.FixFailuresTotal.Inc()
				c.logger.Info("No precise fix for wake-up", zap.String("regionID", ev.regionID), zap.Error(ev.err))
				continue
			}
			c.logger.Debug("Precise fix received",
				zap.String("regionID", ev.regionID),
				zap.Duration("latency", c.clock.Since(ev.requestedAt)),
				zap.Float64("accuracy", ev.fix.Accuracy),
			)
			for _, d := range c.evaluate(ctx, ev.fix) {
				wg.Add(1)
				go func(d Detection) {
					defer wg.Done()
					c.notifier.NotifyDetection(ctx, d)
				}(d)
			}
		}
	}
}

// Open lets HandleRegionEntry queue entries before the goroutine calling Run
// has been scheduled. Run calls it itself; entries are refused again once Run
// returns.
func (c *Coordinator) Open() {
	c.running.Store(true)
}

// HandleRegionEntry queues a geofence-entry callback. It is safe to call from
// any goroutine.
func (c *Coordinator) HandleRegionEntry(ctx context.Context, regionID string) error {
	if !c.running.Load() {
		return ErrNotRunning
	}
	select {
	case c.entries <- entryEvent{regionID: regionID, at: c.clock.Now()}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnTargetsRefreshed schedules a re-registration for the new snapshot. It
// never blocks.
func (c *Coordinator) OnTargetsRefreshed(*target.Snapshot) {
	select {
	case c.register <- struct{}{}:
	default:
	}
}

// PermissionGranted re-enables a coordinator disabled by a permission error
// and schedules registration.
func (c *Coordinator) PermissionGranted() {
	if c.disabled.CompareAndSwap(true, false) {
		c.logger.Info("Location permission granted, geofencing re-enabled")
	}
	c.OnTargetsRefreshed(nil)
}

// PermissionDenied disables the coordinator after the device revoked location
// permission and forgets the registered regions. Entries that still arrive
// are ignored until PermissionGranted.
func (c *Coordinator) PermissionDenied() {
	if c.disabled.CompareAndSwap(false, true) {
		c.logger.Warn("Location permission revoked, coordinator disabled until permission is granted")
	}
	c.clearRegions()
}

func (c *Coordinator) clearRegions() {
	c.regionsMu.Lock()
	c.regions = nil
	c.regionsMu.Unlock()
}

// Disabled reports whether registration failed for lack of permission.
func (c *Coordinator) Disabled() bool {
	return c.disabled.Load()
}

// Regions returns the regions from the last successful registration.
func (c *Coordinator) Regions() []Region {
	c.regionsMu.RLock()
	defer c.regionsMu.RUnlock()
	out := make([]Region, len(c.regions))
	copy(out, c.regions)
	return out
}

func (c *Coordinator) registerRegions(ctx context.Context) {
	if c.disabled.Load() {
		return
	}
	radius := c.tuning.Get().GeofenceRadius
	targets := c.targets.Snapshot().Targets()
	regions := make([]Region, len(targets))
	for i, t := range targets {
		regions[i] = Region{ID: t.ID, Center: t.Coordinate, Radius: radius}
	}

	if err := c.monitor.ReplaceRegions(ctx, regions); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			if c.disabled.CompareAndSwap(false, true) {
				c.logger.Warn("Geofence registration refused, coordinator disabled until permission is granted", zap.Error(err))
			}
			c.clearRegions()
			return
		}
		c.logger.Error("Geofence registration failed", zap.Error(err), zap.Int("regions", len(regions)))
		return
	}

	c.regionsMu.Lock()
	c.regions = regions
	c.regionsMu.Unlock()
	c.logger.Info("Geofences registered", zap.Int("regions", len(regions)), zap.Float64("radius", radius))
}

// evaluate runs the fine-grained check over every target and returns the
// detections that pass the completion and cooldown gates. Detection times are
// recorded before returning.
func (c *Coordinator) evaluate(ctx context.Context, fix Fix) []Detection {
	settings := c.tuning.Get()
	matches := proximity.WithinThreshold(fix.Coordinate, fix.Accuracy, c.targets.Snapshot().Targets(),
		settings.DetectionThreshold, settings.AccuracyFactor)
	now := c.clock.Now()

	var out []Detection
	for _, m := range matches {
		id := m.Target.ID
		if c.completions != nil && c.completions.IsCompleted(id) {
			metrics.DetectionsTotal.WithLabelValues("completed").Inc()
			continue
		}
		c.mu.Lock()
		last, seen := c.lastDetection[id]
		if seen && now.Sub(last) < settings.DetectionCooldown {
			c.mu.Unlock()
			metrics.DetectionsTotal.WithLabelValues("cooldown").Inc()
			c.logger.Debug("Detection within cooldown", zap.String("targetID", id), zap.Time("last", last))
			continue
		}
		c.lastDetection[id] = now
		c.mu.Unlock()

		c.persist(ctx, id, now)
		metrics.DetectionsTotal.WithLabelValues("detected").Inc()
		c.logger.Info("Target detected",
			zap.String("targetID", id),
			zap.Float64("distance", m.Distance),
			zap.Float64("accuracy", fix.Accuracy),
		)
		out = append(out, Detection{Target: m.Target, Distance: m.Distance, Accuracy: fix.Accuracy, At: now})
	}
	return out
}

// MarkDetected records a detection for targetID now, starting its cooldown.
func (c *Coordinator) MarkDetected(ctx context.Context, targetID string) {
	now := c.clock.Now()
	c.mu.Lock()
	c.lastDetection[targetID] = now
	c.mu.Unlock()
	c.persist(ctx, targetID, now)
}

// ResetDetection forgets the detection record of targetID.
func (c *Coordinator) ResetDetection(ctx context.Context, targetID string) {
	c.mu.Lock()
	delete(c.lastDetection, targetID)
	c.mu.Unlock()
	if c.markers != nil {
		if err := c.markers.Delete(ctx, targetID); err != nil {
			c.logger.Warn("Could not delete detection marker", zap.String("targetID", targetID), zap.Error(err))
		}
	}
}

// ResetAll forgets every detection record.
func (c *Coordinator) ResetAll(ctx context.Context) {
	c.mu.Lock()
	c.lastDetection = make(map[string]time.Time)
	c.mu.Unlock()
	if c.markers != nil {
		if err := c.markers.DeleteAll(ctx); err != nil {
			c.logger.Warn("Could not delete detection markers", zap.Error(err))
		}
	}
}

// LastDetections returns a copy of the detection records.
func (c *Coordinator) LastDetections() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Time, len(c.lastDetection))
	for id, at := range c.lastDetection {
		out[id] = at
	}
	return out
}

func (c *Coordinator) persist(ctx context.Context, targetID string, at time.Time) {
	if c.markers == nil {
		return
	}
	if err := c.markers.Save(ctx, targetID, at); err != nil {
		c.logger.Warn("Could not persist detection marker", zap.String("targetID", targetID), zap.Error(err))
	}
}
