// Package alert decides whether a confirmed proximity event becomes a user
// alert, sends it and records it in the notification ledger.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spotalert_backend/internal/geofence"
	"spotalert_backend/internal/ledger"
	"spotalert_backend/internal/platform/clock"
	"spotalert_backend/internal/platform/metrics"
	"spotalert_backend/internal/proximity"
	"spotalert_backend/internal/push"
	"spotalert_backend/internal/target"
)

// ErrPushDisabled is returned while the push path is off after a permission error.
var ErrPushDisabled = errors.New("push notifications disabled")

// Outcome is the result of one Notify call.
type Outcome string

const (
	Dispatched          Outcome = "dispatched"
	SuppressedCompleted Outcome = "suppressed_completed"
	SuppressedCooldown  Outcome = "suppressed_cooldown"
	Failed              Outcome = "failed"
)

// Recorder stores dispatched notifications.
type Recorder interface {
	Append(ctx context.Context, rec ledger.Record) (ledger.Record, error)
}

// CompletionListener observes completion changes.
type CompletionListener func(ctx context.Context, targetID string, completed bool)

// Dispatcher gates alerts per target behind the completion set and the
// notification cooldown. The gate checks and their updates for one target
// run under that target's lock.
type Dispatcher struct {
	sender      push.Sender
	recorder    Recorder
	cooldowns   CooldownStore
	completions CompletionStore
	tuning      *proximity.Tuning
	clock       clock.Clock
	logger      *zap.Logger

	locks        *keyedMutex
	pushDisabled atomic.Bool

	mu        sync.RWMutex
	completed map[string]time.Time
	listeners []CompletionListener
}

func NewDispatcher(
	sender push.Sender,
	recorder Recorder,
	cooldowns CooldownStore,
	completions CompletionStore,
	tuning *proximity.Tuning,
	clk clock.Clock,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		sender:      sender,
		recorder:    recorder,
		cooldowns:   cooldowns,
		completions: completions,
		tuning:      tuning,
		clock:       clk,
		logger:      logger.Named("Dispatcher"),
		locks:       newKeyedMutex(),
		completed:   make(map[string]time.Time),
	}
}

// Restore loads the persisted completion set.
func (d *Dispatcher) Restore(ctx context.Context) error {
	loaded, err := d.completions.Load(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.completed = loaded
	d.mu.Unlock()
	d.logger.Info("Completion set restored", zap.Int("count", len(loaded)))
	return nil
}

// OnCompletionChange registers fn for MarkCompleted and ResetCompletion.
func (d *Dispatcher) OnCompletionChange(fn CompletionListener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Notify sends an alert for t unless it is completed or still cooling down.
// The cooldown is claimed before sending and released again if the alert is
// not accepted by the sender; the ledger record is written only after a
// successful send.
func (d *Dispatcher) Notify(ctx context.Context, t target.Target, distance, accuracy float64) (Outcome, error) {
	unlock := d.locks.Lock(t.ID)
	defer unlock()

	log := d.logger.With(zap.String("targetID", t.ID))

	if d.IsCompleted(t.ID) {
		metrics.NotificationsTotal.WithLabelValues(string(SuppressedCompleted)).Inc()
		log.Debug("Notification suppressed: target completed")
		return SuppressedCompleted, nil
	}

	cooldown := d.tuning.Get().NotificationCooldown
	now := d.clock.Now()
	claim, err := d.cooldowns.Claim(ctx, t.ID, now, cooldown)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(Failed)).Inc()
		log.Warn("Cooldown lookup failed, skipping notification", zap.Error(err))
		return Failed, err
	}
	if !claim.Granted {
		metrics.NotificationsTotal.WithLabelValues(string(SuppressedCooldown)).Inc()
		log.Debug("Notification suppressed: cooldown", zap.Time("lastNotified", claim.Previous), zap.Duration("cooldown", cooldown))
		return SuppressedCooldown, nil
	}
	// The claim already started the cooldown; give it back if nothing is sent.
	release := func() {
		if err := d.cooldowns.Release(context.WithoutCancel(ctx), claim); err != nil {
			log.Warn("Could not release notification cooldown", zap.Error(err))
		}
	}

	if d.pushDisabled.Load() {
		release()
		metrics.NotificationsTotal.WithLabelValues(string(Failed)).Inc()
		return Failed, ErrPushDisabled
	}

	rec := buildRecord(t, distance, accuracy, now)
	msg := push.Message{
		Title: rec.Title,
		Body:  rec.Body,
		Data: map[string]string{
			"type":            string(rec.Type),
			"notification_id": rec.ID.String(),
			"target_id":       t.ID,
		},
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		release()
		metrics.NotificationsTotal.WithLabelValues(string(Failed)).Inc()
		if errors.Is(err, push.ErrPermissionDenied) {
			if d.pushDisabled.CompareAndSwap(false, true) {
				log.Error("Push permission denied, disabling alerts until re-enabled", zap.Error(err))
			}
			return Failed, ErrPushDisabled
		}
		log.Warn("Alert submission failed", zap.Error(err))
		return Failed, fmt.Errorf("send alert for %s: %w", t.ID, err)
	}

	metrics.NotificationsTotal.WithLabelValues(string(Dispatched)).Inc()

	if _, err := d.recorder.Append(ctx, rec); err != nil {
		log.Error("Alert sent but ledger append failed", zap.Error(err))
		return Dispatched, err
	}
	log.Info("Notification dispatched", zap.Float64("distance", distance), zap.Float64("accuracy", accuracy))
	return Dispatched, nil
}

// NotifyDetection forwards a geofence detection to Notify.
func (d *Dispatcher) NotifyDetection(ctx context.Context, det geofence.Detection) {
	if _, err := d.Notify(ctx, det.Target, det.Distance, det.Accuracy); err != nil && !errors.Is(err, ErrPushDisabled) {
		d.logger.Warn("Background detection not notified", zap.String("targetID", det.Target.ID), zap.Error(err))
	}
}

// MarkCompleted closes the gate for targetID until ResetCompletion.
func (d *Dispatcher) MarkCompleted(ctx context.Context, targetID string) error {
	unlock := d.locks.Lock(targetID)
	defer unlock()

	now := d.clock.Now()
	if err := d.completions.Add(ctx, targetID, now); err != nil {
		return err
	}
	d.mu.Lock()
	d.completed[targetID] = now
	listeners := append([]CompletionListener(nil), d.listeners...)
	d.mu.Unlock()

	d.logger.Info("Target marked completed", zap.String("targetID", targetID))
	for _, fn := range listeners {
		fn(ctx, targetID, true)
	}
	return nil
}

// ResetCompletion reopens the gate for targetID.
func (d *Dispatcher) ResetCompletion(ctx context.Context, targetID string) error {
	unlock := d.locks.Lock(targetID)
	defer unlock()

	if err := d.completions.Remove(ctx, targetID); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.completed, targetID)
	listeners := append([]CompletionListener(nil), d.listeners...)
	d.mu.Unlock()

	d.logger.Info("Target completion reset", zap.String("targetID", targetID))
	for _, fn := range listeners {
		fn(ctx, targetID, false)
	}
	return nil
}

// IsCompleted reports whether targetID is in the completion set.
func (d *Dispatcher) IsCompleted(targetID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.completed[targetID]
	return ok
}

// Completed returns a copy of the completion set.
func (d *Dispatcher) Completed() map[string]time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]time.Time, len(d.completed))
	for id, at := range d.completed {
		out[id] = at
	}
	return out
}

// PushDisabled reports whether a permission error switched alerts off.
func (d *Dispatcher) PushDisabled() bool {
	return d.pushDisabled.Load()
}

// EnablePush turns alerts back on after the user granted notification
// permission again.
func (d *Dispatcher) EnablePush() {
	if d.pushDisabled.CompareAndSwap(true, false) {
		d.logger.Info("Push notifications re-enabled")
	}
}

func buildRecord(t target.Target, distance, accuracy float64, now time.Time) ledger.Record {
	id := t.ID
	rec := ledger.Record{
		ID:        uuid.New(),
		Type:      ledger.SpotNearby,
		Title:     t.Name + " is nearby",
		Body:      fmt.Sprintf("You are about %.0f m from %s.", distance, t.Name),
		Timestamp: now,
		TargetID:  &id,
		Metadata: ledger.Metadata{
			"distance_m": strconv.FormatFloat(distance, 'f', 1, 64),
			"accuracy_m": strconv.FormatFloat(accuracy, 'f', 1, 64),
		},
	}
	if c := t.CategoryOrEmpty(); c != "" {
		rec.Metadata["category"] = c
	}
	return rec
}
