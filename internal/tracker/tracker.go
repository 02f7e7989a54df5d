package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"spotalert_backend/internal/geo"
	"spotalert_backend/internal/platform/clock"
	"spotalert_backend/internal/platform/metrics"
	"spotalert_backend/internal/proximity"
	"spotalert_backend/internal/target"

	"go.uber.org/zap"
)

// ErrStopped is returned when the tracker loop is no longer running.
var ErrStopped = errors.New("tracker stopped")

// Targets provides the current target snapshot.
type Targets interface {
	Snapshot() *target.Snapshot
}

type command struct {
	state proximity.State // Inside(t) for select, Outside for deselect
	reply chan []Event
}

type subscriber struct {
	ch       chan Event
	done     chan struct{}
	once     sync.Once
	reliable bool
}

// Tracker owns the session's single ProximityState. All state changes happen
// on the goroutine running Run.
type Tracker struct {
	targets Targets
	tuning  *proximity.Tuning
	clock   clock.Clock
	logger  *zap.Logger

	samples  chan Sample
	commands chan command
	stopped  chan struct{}

	mu         sync.RWMutex
	state      proximity.State
	lastSample *Sample

	subMu   sync.Mutex
	subs    map[int]*subscriber
	nextSub int
}

// New creates a tracker in the Outside state. Call Run to start it.
func New(targets Targets, tuning *proximity.Tuning, clk clock.Clock, logger *zap.Logger) *Tracker {
	return &Tracker{
		targets:  targets,
		tuning:   tuning,
		clock:    clk,
		logger:   logger.Named("ForegroundTracker"),
		samples:  make(chan Sample, 64),
		commands: make(chan command),
		stopped:  make(chan struct{}),
		subs:     make(map[int]*subscriber),
	}
}

// Run processes samples and commands until ctx is cancelled. Subscriber
// channels are closed when it returns.
func (t *Tracker) Run(ctx context.Context) error {
	defer t.closeSubscribers()
	defer close(t.stopped)

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending *Sample
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	t.logger.Info("Foreground tracker started")
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Foreground tracker stopped")
			return ctx.Err()

		case s := <-t.samples:
			pending = &s
			debounce := t.tuning.Get().Debounce
			if debounce <= 0 {
				timerC = nil
				t.evaluate(ctx, *pending)
				pending = nil
				continue
			}
			// A newer sample restarts the window and replaces the older one.
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if pending != nil {
				t.evaluate(ctx, *pending)
				pending = nil
			}

		case cmd := <-t.commands:
			// A manual choice supersedes any sample still waiting out the debounce.
			if timer != nil {
				timer.Stop()
			}
			timerC = nil
			pending = nil
			cmd.reply <- t.force(ctx, cmd.state)
		}
	}
}

// Submit queues a sample for classification. Samples without a timestamp are
// stamped with the current time.
func (t *Tracker) Submit(ctx context.Context, s Sample) error {
	if !s.Coordinate.Valid() {
		return fmt.Errorf("invalid coordinate %s", s.Coordinate)
	}
	if s.Accuracy < 0 {
		s.Accuracy = 0
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = t.clock.Now()
	}
	select {
	case t.samples <- s:
		metrics.SamplesIngestedTotal.Inc()
		return nil
	case <-t.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceSelect puts the tracker Inside(tg) regardless of distance and returns
// the events that produced.
func (t *Tracker) ForceSelect(ctx context.Context, tg target.Target) ([]Event, error) {
	return t.send(ctx, proximity.Inside(tg))
}

// ForceDeselect puts the tracker Outside regardless of distance.
func (t *Tracker) ForceDeselect(ctx context.Context) ([]Event, error) {
	return t.send(ctx, proximity.Outside())
}

func (t *Tracker) send(ctx context.Context, st proximity.State) ([]Event, error) {
	cmd := command{state: st, reply: make(chan []Event, 1)}
	select {
	case t.commands <- cmd:
	case <-t.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case events := <-cmd.reply:
		return events, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// State returns the current state and the last classified sample, if any.
func (t *Tracker) State() (proximity.State, *Sample) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastSample == nil {
		return t.state, nil
	}
	s := *t.lastSample
	return t.state, &s
}

// Subscribe returns a channel receiving the events emitted after the call.
// Delivery never blocks the tracker: an event that does not fit in the
// buffer is dropped for that subscriber and counted.
func (t *Tracker) Subscribe(buffer int) (<-chan Event, func()) {
	return t.subscribe(buffer, false)
}

// SubscribeReliable returns a channel receiving every event emitted after the
// call. Delivery waits for the subscriber, so it must keep reading or cancel.
func (t *Tracker) SubscribeReliable(buffer int) (<-chan Event, func()) {
	return t.subscribe(buffer, true)
}

func (t *Tracker) subscribe(buffer int, reliable bool) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, buffer), done: make(chan struct{}), reliable: reliable}
	t.subMu.Lock()
	select {
	case <-t.stopped:
		t.subMu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	default:
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = sub
	t.subMu.Unlock()

	cancel := func() {
		sub.once.Do(func() { close(sub.done) })
		t.subMu.Lock()
		delete(t.subs, id)
		t.subMu.Unlock()
	}
	return sub.ch, cancel
}

// SubscriberCount reports the number of live subscriptions.
func (t *Tracker) SubscriberCount() int {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	return len(t.subs)
}

func (t *Tracker) evaluate(ctx context.Context, s Sample) {
	settings := t.tuning.Get()
	snap := t.targets.Snapshot()

	t.mu.RLock()
	prev := t.state
	t.mu.RUnlock()

	next := proximity.Classify(s.Coordinate, s.Accuracy, snap.Targets(), prev,
		settings.EntryRadius, settings.ExitRadius, settings.AccuracyFactor)

	t.mu.Lock()
	t.state = next
	t.lastSample = &s
	t.mu.Unlock()

	events := transition(prev, next, s, false, t.clock.Now())
	t.publish(ctx, events)
}

func (t *Tracker) force(ctx context.Context, next proximity.State) []Event {
	t.mu.Lock()
	prev := t.state
	t.state = next
	last := t.lastSample
	t.mu.Unlock()

	var s Sample
	if last != nil {
		s = *last
	}
	events := transition(prev, next, s, true, t.clock.Now())
	if last == nil {
		for i := range events {
			events[i].Distance = 0
		}
	}
	t.logger.Info("Proximity state forced", zap.Stringer("from", prev), zap.Stringer("to", next))
	t.publish(ctx, events)
	return events
}

// transition derives at most one event from a state change.
func transition(prev, next proximity.State, s Sample, forced bool, now time.Time) []Event {
	if prev.Same(next) {
		return nil
	}
	ev := Event{Accuracy: s.Accuracy, Forced: forced, At: now}
	prevT, wasInside := prev.Target()
	nextT, isInside := next.Target()
	switch {
	case !wasInside && isInside:
		ev.Kind = Entered
		ev.Target = nextT
	case wasInside && isInside:
		ev.Kind = SwitchedTo
		ev.Target = nextT
		from := prevT
		ev.From = &from
	default:
		ev.Kind = Exited
		ev.Target = prevT
	}
	ev.Distance = geo.Distance(s.Coordinate, ev.Target.Coordinate)
	return []Event{ev}
}

func (t *Tracker) publish(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	t.subMu.Lock()
	subs := make([]*subscriber, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.subMu.Unlock()

	for _, ev := range events {
		metrics.TrackerTransitionsTotal.WithLabelValues(string(ev.Kind)).Inc()
		t.logger.Info("Proximity transition",
			zap.String("kind", string(ev.Kind)),
			zap.String("targetID", ev.Target.ID),
			zap.Float64("distance", ev.Distance),
			zap.Bool("forced", ev.Forced),
		)
		for _, s := range subs {
			if !s.reliable {
				select {
				case s.ch <- ev:
				case <-s.done:
				default:
					metrics.TrackerEventsDroppedTotal.Inc()
					t.logger.Debug("Subscriber lagging, event dropped", zap.String("kind", string(ev.Kind)))
				}
				continue
			}
			select {
			case s.ch <- ev:
			case <-s.done:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (t *Tracker) closeSubscribers() {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for id, s := range t.subs {
		close(s.ch)
		delete(t.subs, id)
	}
}
