package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spotalert_backend/internal/platform/clock"
)

// DefaultCapacity is the number of records kept when no capacity is configured.
const DefaultCapacity = 100

// ChangeKind names the mutation a Change describes.
type ChangeKind string

const (
	Appended ChangeKind = "appended"
	Removed  ChangeKind = "removed"
	Cleared  ChangeKind = "cleared"
	Viewed   ChangeKind = "viewed"
)

// Change is delivered to subscribers after a mutation is committed.
type Change struct {
	Kind         ChangeKind
	Record       *Record
	Evicted      []uuid.UUID
	LastViewedAt *time.Time
	UnreadCount  int
}

// Ledger is the in-memory, newest-first view over a Repository. Memory is
// only changed after the repository call succeeds, and subscribers run before
// the mutating call returns.
type Ledger struct {
	repo     Repository
	capacity int
	clock    clock.Clock
	logger   *zap.Logger

	writeMu sync.Mutex // serializes mutations and their notifications

	mu           sync.RWMutex
	records      []Record
	lastViewedAt *time.Time
	nextSeq      int64
	subscribers  map[int]func(Change)
	nextSubID    int
}

// New creates an empty ledger. Call Load to read the persisted history.
func New(repo Repository, capacity int, clk clock.Clock, logger *zap.Logger) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		repo:        repo,
		capacity:    capacity,
		clock:       clk,
		logger:      logger.Named("NotificationLedger"),
		nextSeq:     1,
		subscribers: make(map[int]func(Change)),
	}
}

// Load replaces the in-memory view with the repository contents.
func (l *Ledger) Load(ctx context.Context) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	records, lastViewed, err := l.repo.Load(ctx)
	if err != nil {
		return err
	}
	var maxSeq int64
	for _, r := range records {
		if r.Seq > maxSeq {
			maxSeq = r.Seq
		}
	}
	if len(records) > l.capacity {
		records = records[:l.capacity]
	}

	l.mu.Lock()
	l.records = records
	l.lastViewedAt = lastViewed
	l.nextSeq = maxSeq + 1
	l.mu.Unlock()

	l.logger.Info("Notification ledger loaded", zap.Int("records", len(records)), zap.Timep("lastViewedAt", lastViewed))
	return nil
}

// Append stores rec as the newest record, evicting the oldest beyond the
// capacity. A zero ID or Timestamp is filled in.
func (l *Ledger) Append(ctx context.Context, rec Record) (Record, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.clock.Now()
	}
	l.mu.RLock()
	rec.Seq = l.nextSeq
	l.mu.RUnlock()

	evicted, err := l.repo.Append(ctx, rec, l.capacity)
	if err != nil {
		return Record{}, fmt.Errorf("append notification %s: %w", rec.ID, err)
	}

	gone := make(map[uuid.UUID]struct{}, len(evicted))
	for _, id := range evicted {
		gone[id] = struct{}{}
	}

	l.mu.Lock()
	next := make([]Record, 0, l.capacity)
	next = append(next, rec)
	for _, r := range l.records {
		if len(next) == l.capacity {
			break
		}
		if _, ok := gone[r.ID]; ok {
			continue
		}
		next = append(next, r)
	}
	l.records = next
	l.nextSeq = rec.Seq + 1
	change := Change{Kind: Appended, Record: &rec, Evicted: evicted, LastViewedAt: l.lastViewedAt, UnreadCount: l.unreadLocked()}
	l.mu.Unlock()

	l.notify(change)
	return rec, nil
}

// Remove deletes one record. It returns ErrNotFound for unknown ids.
func (l *Ledger) Remove(ctx context.Context, id uuid.UUID) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	idx := l.indexLocked(id)
	l.mu.RUnlock()
	if idx < 0 {
		return ErrNotFound
	}
	if err := l.repo.Delete(ctx, id); err != nil {
		return err
	}

	l.mu.Lock()
	removed := l.records[idx]
	next := make([]Record, 0, len(l.records)-1)
	next = append(next, l.records[:idx]...)
	next = append(next, l.records[idx+1:]...)
	l.records = next
	change := Change{Kind: Removed, Record: &removed, LastViewedAt: l.lastViewedAt, UnreadCount: l.unreadLocked()}
	l.mu.Unlock()

	l.notify(change)
	return nil
}

// RemoveAll deletes every record. The watermark is unchanged.
func (l *Ledger) RemoveAll(ctx context.Context) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.repo.DeleteAll(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	l.records = nil
	change := Change{Kind: Cleared, LastViewedAt: l.lastViewedAt}
	l.mu.Unlock()

	l.notify(change)
	return nil
}

// MarkAllViewed moves the watermark to at. The watermark never moves
// backwards; an older at leaves it as it is.
func (l *Ledger) MarkAllViewed(ctx context.Context, at time.Time) (time.Time, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	current := l.lastViewedAt
	l.mu.RUnlock()
	if current != nil && !at.After(*current) {
		return *current, nil
	}

	if err := l.repo.SaveLastViewed(ctx, at); err != nil {
		return time.Time{}, err
	}

	l.mu.Lock()
	l.lastViewedAt = &at
	change := Change{Kind: Viewed, LastViewedAt: &at, UnreadCount: l.unreadLocked()}
	l.mu.Unlock()

	l.notify(change)
	return at, nil
}

// IsUnread reports whether rec is newer than the watermark. With no
// watermark every record is unread.
func (l *Ledger) IsUnread(rec Record) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return isUnread(rec, l.lastViewedAt)
}

func isUnread(rec Record, lastViewed *time.Time) bool {
	return lastViewed == nil || rec.Timestamp.After(*lastViewed)
}

// List returns a copy of all records, newest first.
func (l *Ledger) List() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Page returns up to limit records starting at offset plus the total count.
func (l *Ledger) Page(offset, limit int) ([]Record, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := len(l.records)
	if offset >= total || limit <= 0 {
		return []Record{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]Record, end-offset)
	copy(out, l.records[offset:end])
	return out, total
}

// UnreadCount returns the number of unread records.
func (l *Ledger) UnreadCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.unreadLocked()
}

// LastViewedAt returns the watermark, or nil when nothing was ever viewed.
func (l *Ledger) LastViewedAt() *time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.lastViewedAt == nil {
		return nil
	}
	at := *l.lastViewedAt
	return &at
}

// Subscribe registers fn for every committed change. fn runs on the mutating
// goroutine and must not call back into mutating ledger methods.
func (l *Ledger) Subscribe(fn func(Change)) func() {
	l.mu.Lock()
	id := l.nextSubID
	l.nextSubID++
	l.subscribers[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.subscribers, id)
		l.mu.Unlock()
	}
}

func (l *Ledger) notify(change Change) {
	l.mu.RLock()
	subs := make([]func(Change), 0, len(l.subscribers))
	for _, fn := range l.subscribers {
		subs = append(subs, fn)
	}
	l.mu.RUnlock()
	for _, fn := range subs {
		fn(change)
	}
}

func (l *Ledger) unreadLocked() int {
	n := 0
	for _, r := range l.records {
		if isUnread(r, l.lastViewedAt) {
			n++
		}
	}
	return n
}

func (l *Ledger) indexLocked(id uuid.UUID) int {
	for i, r := range l.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}
