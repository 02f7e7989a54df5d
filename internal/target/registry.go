package target

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"spotalert_backend/internal/platform/clock"
	"spotalert_backend/internal/platform/metrics"

	"go.uber.org/zap"
)

// Source is the external target-data collaborator.
type Source interface {
	FetchActiveTargets(ctx context.Context) ([]Target, error)
}

// RefreshListener is called after a new snapshot has been installed.
type RefreshListener func(snap *Snapshot)

// Registry owns the current target snapshot. Readers take the pointer once
// and work on that snapshot; refreshes swap the pointer and never mutate an
// installed snapshot.
type Registry struct {
	source  Source
	clock   clock.Clock
	logger  *zap.Logger
	current atomic.Pointer[Snapshot]

	mu        sync.Mutex // serializes installs and listener registration
	listeners []RefreshListener
}

// NewRegistry creates a registry holding an empty snapshot.
func NewRegistry(source Source, clk clock.Clock, logger *zap.Logger) *Registry {
	r := &Registry{
		source: source,
		clock:  clk,
		logger: logger.Named("TargetRegistry"),
	}
	r.current.Store(newSnapshot(nil, 0, clk.Now()))
	return r
}

// Snapshot returns the current immutable snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// OnRefresh registers fn to be called with every newly installed snapshot.
func (r *Registry) OnRefresh(fn RefreshListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Refresh fetches the active list from the source and installs it. On any
// fetch or validation error the previous snapshot stays in place.
func (r *Registry) Refresh(ctx context.Context) (*Snapshot, error) {
	if r.source == nil {
		return r.Snapshot(), fmt.Errorf("target registry has no source configured")
	}
	fetched, err := r.source.FetchActiveTargets(ctx)
	if err != nil {
		metrics.TargetRefreshTotal.WithLabelValues("fetch_failed").Inc()
		r.logger.Warn("Target fetch failed, keeping previous list",
			zap.Error(err), zap.Uint64("version", r.Snapshot().Version()))
		return r.Snapshot(), fmt.Errorf("fetching active targets: %w", err)
	}
	return r.Load(fetched)
}

// Load validates targets and installs them as the new snapshot.
func (r *Registry) Load(targets []Target) (*Snapshot, error) {
	clean, err := Normalize(targets)
	if err != nil {
		metrics.TargetRefreshTotal.WithLabelValues("rejected").Inc()
		r.logger.Warn("Target list rejected, keeping previous list", zap.Error(err))
		return r.Snapshot(), err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	snap := newSnapshot(clean, r.Snapshot().Version()+1, r.clock.Now())
	r.current.Store(snap)

	metrics.TargetRefreshTotal.WithLabelValues("ok").Inc()
	metrics.TargetsLoaded.Set(float64(snap.Len()))
	r.logger.Info("Target list installed", zap.Int("count", snap.Len()), zap.Uint64("version", snap.Version()))

	for _, fn := range r.listeners {
		fn(snap)
	}
	return snap, nil
}
