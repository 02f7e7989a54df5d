package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"spotalert_backend/internal/geofence"
	"spotalert_backend/internal/platform/clock"
	"spotalert_backend/internal/push"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrUnknownRequest is returned when a fix arrives for no pending request.
	ErrUnknownRequest = errors.New("no pending fix request")
	// ErrFixUnavailable is returned when the device could not be asked for a fix.
	ErrFixUnavailable = errors.New("precise fix unavailable")
)

type pendingFix struct {
	id          string
	requestedAt time.Time
	done        chan struct{}
	fix         geofence.Fix
	err         error
	waiters     int
}

// FixBroker implements geofence.LocationProvider over the push channel.
// Concurrent requests share one outstanding request to the device; there is
// no timeout, a request lasts until the device answers or every waiter's
// context ends.
type FixBroker struct {
	waker  push.Waker
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	pending *pendingFix
}

func NewFixBroker(waker push.Waker, clk clock.Clock, logger *zap.Logger) *FixBroker {
	return &FixBroker{waker: waker, clock: clk, logger: logger.Named("FixBroker")}
}

// RequestFix wakes the device (unless a request is already outstanding) and
// waits for its answer.
func (b *FixBroker) RequestFix(ctx context.Context) (geofence.Fix, error) {
	b.mu.Lock()
	p := b.pending
	created := p == nil
	if created {
		p = &pendingFix{id: uuid.NewString(), requestedAt: b.clock.Now(), done: make(chan struct{})}
		b.pending = p
	}
	p.waiters++
	b.mu.Unlock()
	defer b.leave(p)

	if created {
		b.logger.Debug("Requesting precise fix", zap.String("requestID", p.id))
		if err := b.waker.WakeForFix(ctx, p.id); err != nil {
			b.resolve(p, geofence.Fix{}, fmt.Errorf("%w: %v", ErrFixUnavailable, err))
		}
	}

	select {
	case <-p.done:
		return p.fix, p.err
	case <-ctx.Done():
		return geofence.Fix{}, ctx.Err()
	}
}

// Deliver hands the device's fix to everyone waiting on requestID. An empty
// requestID answers whatever request is outstanding.
func (b *FixBroker) Deliver(requestID string, fix geofence.Fix) error {
	b.mu.Lock()
	p := b.pending
	if p == nil || (requestID != "" && requestID != p.id) {
		b.mu.Unlock()
		return ErrUnknownRequest
	}
	b.pending = nil
	waiters := p.waiters
	b.mu.Unlock()

	if fix.Timestamp.IsZero() {
		fix.Timestamp = b.clock.Now()
	}
	p.fix = fix
	close(p.done)
	b.logger.Debug("Precise fix delivered", zap.String("requestID", p.id), zap.Int("waiters", waiters))
	return nil
}

// PendingRequest describes the outstanding request, if any.
type PendingRequest struct {
	ID          string
	RequestedAt time.Time
}

// Pending returns the outstanding request for devices that poll.
func (b *FixBroker) Pending() (PendingRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return PendingRequest{}, false
	}
	return PendingRequest{ID: b.pending.id, RequestedAt: b.pending.requestedAt}, true
}

func (b *FixBroker) resolve(p *pendingFix, fix geofence.Fix, err error) {
	b.mu.Lock()
	if b.pending != p {
		b.mu.Unlock()
		return
	}
	b.pending = nil
	b.mu.Unlock()
	p.fix, p.err = fix, err
	close(p.done)
}

// leave drops a waiter; the request is abandoned once nobody waits on it.
func (b *FixBroker) leave(p *pendingFix) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p.waiters--
	if p.waiters == 0 && b.pending == p {
		b.pending = nil
	}
}
