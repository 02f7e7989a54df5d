package proximity

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"spotalert_backend/internal/config"

	"go.uber.org/zap"
)

// Settings are the runtime-adjustable proximity parameters.
type Settings struct {
	EntryRadius          float64
	ExitRadius           float64
	AccuracyFactor       float64
	DetectionThreshold   float64
	DetectionCooldown    time.Duration
	NotificationCooldown time.Duration
	Debounce             time.Duration

	// GeofenceRadius is fixed at start-up; it bounds DetectionThreshold.
	GeofenceRadius float64
}

// SettingsFromConfig takes the start-up values from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		EntryRadius:          cfg.EntryRadiusMeters,
		ExitRadius:           cfg.ExitRadiusMeters,
		AccuracyFactor:       cfg.AccuracyFactor,
		DetectionThreshold:   cfg.DetectionThresholdMeters,
		DetectionCooldown:    cfg.DetectionCooldown,
		NotificationCooldown: cfg.NotificationCooldown,
		Debounce:             cfg.Debounce,
		GeofenceRadius:       cfg.GeofenceRadiusMeters,
	}
}

// Validate checks that the settings keep a usable hysteresis band.
func (s Settings) Validate() error {
	if s.EntryRadius <= 0 {
		return fmt.Errorf("entry radius must be positive, got %v", s.EntryRadius)
	}
	if s.ExitRadius <= s.EntryRadius {
		return fmt.Errorf("exit radius (%v) must be greater than entry radius (%v)", s.ExitRadius, s.EntryRadius)
	}
	if s.AccuracyFactor < 0 {
		return fmt.Errorf("accuracy factor must not be negative, got %v", s.AccuracyFactor)
	}
	if s.DetectionThreshold <= 0 || s.DetectionThreshold > s.GeofenceRadius {
		return fmt.Errorf("detection threshold (%v) must be in (0, %v]", s.DetectionThreshold, s.GeofenceRadius)
	}
	if s.DetectionCooldown < 0 || s.NotificationCooldown < 0 || s.Debounce < 0 {
		return fmt.Errorf("cooldowns and debounce must not be negative")
	}
	return nil
}

// Tuning holds the live Settings. Readers get a consistent value without
// locking; updates replace the whole value.
type Tuning struct {
	current atomic.Pointer[Settings]
	mu      sync.Mutex // serializes updates
	logger  *zap.Logger
}

// NewTuning validates initial and makes it the live value.
func NewTuning(initial Settings, logger *zap.Logger) (*Tuning, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("invalid initial proximity settings: %w", err)
	}
	t := &Tuning{logger: logger.Named("ProximityTuning")}
	t.current.Store(&initial)
	return t, nil
}

// Get returns the live settings.
func (t *Tuning) Get() Settings {
	return *t.current.Load()
}

// Update applies fn to a copy of the live settings and installs the result if
// it validates. GeofenceRadius cannot be changed at runtime.
func (t *Tuning) Update(fn func(s *Settings)) (Settings, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.Get()
	next := prev
	fn(&next)
	next.GeofenceRadius = prev.GeofenceRadius
	if err := next.Validate(); err != nil {
		t.logger.Warn("Rejected proximity settings update", zap.Error(err))
		return prev, err
	}
	t.current.Store(&next)
	t.logger.Info("Proximity settings updated",
		zap.Float64("entryRadius", next.EntryRadius),
		zap.Float64("exitRadius", next.ExitRadius),
		zap.Float64("accuracyFactor", next.AccuracyFactor),
		zap.Float64("detectionThreshold", next.DetectionThreshold),
		zap.Duration("detectionCooldown", next.DetectionCooldown),
		zap.Duration("notificationCooldown", next.NotificationCooldown),
		zap.Duration("debounce", next.Debounce),
	)
	return next, nil
}
