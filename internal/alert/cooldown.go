package alert

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownClaim is the result of CooldownStore.Claim. When Granted, the
// store already records At as the last notification time; Release undoes it.
type CooldownClaim struct {
	TargetID    string
	At          time.Time
	Granted     bool
	Previous    time.Time
	HadPrevious bool
}

// CooldownStore remembers when each target was last notified. Claim is an
// atomic check-and-set so that two dispatchers sharing a store cannot both
// pass the cooldown for the same target.
type CooldownStore interface {
	Claim(ctx context.Context, targetID string, now time.Time, cooldown time.Duration) (CooldownClaim, error)
	Release(ctx context.Context, claim CooldownClaim) error
	LastNotified(ctx context.Context, targetID string) (time.Time, bool, error)
}

// MemoryCooldownStore keeps cooldowns in process memory.
type MemoryCooldownStore struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{last: make(map[string]time.Time)}
}

func (s *MemoryCooldownStore) Claim(_ context.Context, targetID string, now time.Time, cooldown time.Duration) (CooldownClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.last[targetID]
	claim := CooldownClaim{TargetID: targetID, At: now, Previous: prev, HadPrevious: had}
	if had && now.Sub(prev) < cooldown {
		return claim, nil
	}
	s.last[targetID] = now
	claim.Granted = true
	return claim, nil
}

func (s *MemoryCooldownStore) Release(_ context.Context, claim CooldownClaim) error {
	if !claim.Granted {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.last[claim.TargetID]; !ok || !cur.Equal(claim.At) {
		return nil
	}
	if claim.HadPrevious {
		s.last[claim.TargetID] = claim.Previous
	} else {
		delete(s.last, claim.TargetID)
	}
	return nil
}

func (s *MemoryCooldownStore) LastNotified(_ context.Context, targetID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.last[targetID]
	return at, ok, nil
}

const redisCooldownPrefix = "spotalert:cooldown:"

// Values are unix nanoseconds. KEYS[1] cooldown key, ARGV[1] now, ARGV[2]
// cooldown length. Returns {granted, previous or ""}.
var claimScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[1])
if prev and (tonumber(ARGV[1]) - tonumber(prev)) < tonumber(ARGV[2]) then
	return {0, prev}
end
redis.call('SET', KEYS[1], ARGV[1])
if prev then
	return {1, prev}
end
return {1, ''}
`)

// Restores ARGV[2] (or deletes the key when empty) if the key still holds
// the claimed value ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return 0
end
if ARGV[2] == '' then
	redis.call('DEL', KEYS[1])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// RedisCooldownStore shares cooldowns between service instances. Claims run
// as a server-side script, so the check and the update are one step. Keys do
// not expire because the cooldown length can change at runtime.
type RedisCooldownStore struct {
	client *redis.Client
}

func NewRedisCooldownStore(client *redis.Client) *RedisCooldownStore {
	return &RedisCooldownStore{client: client}
}

func (s *RedisCooldownStore) Claim(ctx context.Context, targetID string, now time.Time, cooldown time.Duration) (CooldownClaim, error) {
	claim := CooldownClaim{TargetID: targetID, At: now}
	res, err := claimScript.Run(ctx, s.client, []string{redisCooldownPrefix + targetID},
		strconv.FormatInt(now.UnixNano(), 10), strconv.FormatInt(int64(cooldown), 10)).Slice()
	if err != nil {
		return claim, fmt.Errorf("redis claim cooldown %s: %w", targetID, err)
	}
	if len(res) != 2 {
		return claim, fmt.Errorf("redis claim cooldown %s: unexpected reply %v", targetID, res)
	}
	granted, _ := res[0].(int64)
	claim.Granted = granted == 1
	if prev, _ := res[1].(string); prev != "" {
		at, err := parseNanos(prev)
		if err != nil {
			return claim, fmt.Errorf("corrupt cooldown value for %s: %w", targetID, err)
		}
		claim.Previous, claim.HadPrevious = at, true
	}
	return claim, nil
}

func (s *RedisCooldownStore) Release(ctx context.Context, claim CooldownClaim) error {
	if !claim.Granted {
		return nil
	}
	prev := ""
	if claim.HadPrevious {
		prev = strconv.FormatInt(claim.Previous.UnixNano(), 10)
	}
	err := releaseScript.Run(ctx, s.client, []string{redisCooldownPrefix + claim.TargetID},
		strconv.FormatInt(claim.At.UnixNano(), 10), prev).Err()
	if err != nil {
		return fmt.Errorf("redis release cooldown %s: %w", claim.TargetID, err)
	}
	return nil
}

func (s *RedisCooldownStore) LastNotified(ctx context.Context, targetID string) (time.Time, bool, error) {
	v, err := s.client.Get(ctx, redisCooldownPrefix+targetID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get cooldown %s: %w", targetID, err)
	}
	at, err := parseNanos(v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt cooldown value for %s: %w", targetID, err)
	}
	return at, true, nil
}

func parseNanos(v string) (time.Time, error) {
	nanos, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, nanos).UTC(), nil
}
