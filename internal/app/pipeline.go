package app

import (
	"context"
	"errors"
	"sync"

	"spotalert_backend/internal/alert"
	"spotalert_backend/internal/config"
	"spotalert_backend/internal/geofence"
	"spotalert_backend/internal/ledger"
	"spotalert_backend/internal/proximity"
	"spotalert_backend/internal/target"
	"spotalert_backend/internal/tracker"

	"go.uber.org/zap"
)

// Pipeline owns the long-running detection components and the links
// between them: tracker transitions and geofence detections feed the
// dispatcher, registry refreshes re-register geofences, and completions
// close the geofence detection gate.
type Pipeline struct {
	cfg         *config.Config
	registry    *target.Registry
	tracker     *tracker.Tracker
	coordinator *geofence.Coordinator
	dispatcher  *alert.Dispatcher
	ledger      *ledger.Ledger
	tuning      *proximity.Tuning
	logger      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPipeline(
	cfg *config.Config,
	registry *target.Registry,
	tr *tracker.Tracker,
	coordinator *geofence.Coordinator,
	dispatcher *alert.Dispatcher,
	l *ledger.Ledger,
	tuning *proximity.Tuning,
	logger *zap.Logger,
) *Pipeline {
	p := &Pipeline{
		cfg:         cfg,
		registry:    registry,
		tracker:     tr,
		coordinator: coordinator,
		dispatcher:  dispatcher,
		ledger:      l,
		tuning:      tuning,
		logger:      logger.Named("Pipeline"),
	}
	registry.OnRefresh(coordinator.OnTargetsRefreshed)
	dispatcher.OnCompletionChange(func(ctx context.Context, targetID string, completed bool) {
		if completed {
			coordinator.MarkDetected(ctx, targetID)
		} else {
			coordinator.ResetDetection(ctx, targetID)
		}
	})
	return p
}

// Start restores persisted state, loads the first target list and starts
// the tracker, the coordinator and the event consumer. Only a failure to
// read the notification history is fatal.
func (p *Pipeline) Start(parent context.Context) error {
	if err := p.ledger.Load(parent); err != nil {
		return err
	}
	if err := p.dispatcher.Restore(parent); err != nil {
		p.logger.Warn("Could not restore completion set", zap.Error(err))
	}
	p.coordinator.Restore(parent)

	if p.cfg.TuningFile != "" {
		if err := proximity.WatchFile(p.cfg.TuningFile, p.tuning, p.logger); err != nil {
			p.logger.Warn("Tuning file not applied, using configured settings", zap.String("path", p.cfg.TuningFile), zap.Error(err))
		}
	}

	if _, err := p.registry.Refresh(parent); err != nil {
		p.logger.Warn("Initial target load failed; waiting for the next refresh", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	events, _ := p.tracker.SubscribeReliable(16)
	p.coordinator.Open()
	p.wg.Add(3)
	go func() {
		defer p.wg.Done()
		p.consumeTrackerEvents(ctx, events)
	}()
	go func() {
		defer p.wg.Done()
		if err := p.tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("Foreground tracker exited", zap.Error(err))
		}
	}()
	go func() {
		defer p.wg.Done()
		if err := p.coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("Geofence coordinator exited", zap.Error(err))
		}
	}()
	p.logger.Info("Detection pipeline started")
	return nil
}

// Stop cancels the components and waits for in-flight notifications.
func (p *Pipeline) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("Detection pipeline stopped")
}

// consumeTrackerEvents turns arrivals into notifications. Manual selections
// are not arrivals and exits need no alert.
func (p *Pipeline) consumeTrackerEvents(ctx context.Context, events <-chan tracker.Event) {
	for ev := range events {
		if ev.Forced || (ev.Kind != tracker.Entered && ev.Kind != tracker.SwitchedTo) {
			continue
		}
		p.wg.Add(1)
		go func(ev tracker.Event) {
			defer p.wg.Done()
			outcome, err := p.dispatcher.Notify(ctx, ev.Target, ev.Distance, ev.Accuracy)
			if err != nil && !errors.Is(err, alert.ErrPushDisabled) {
				p.logger.Warn("Foreground arrival not notified", zap.String("targetID", ev.Target.ID), zap.Error(err))
				return
			}
			p.logger.Debug("Foreground arrival handled", zap.String("targetID", ev.Target.ID), zap.String("outcome", string(outcome)))
		}(ev)
	}
}
