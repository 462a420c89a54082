package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/coachbook/libs/availability"
	"github.com/redis/go-redis/v9"
)

// CacheObserver receives "hit", "miss" or "error" for every lookup.
type CacheObserver func(result string)

// CachedProvider keeps schedules in Redis for ttl. Unknown coaches are cached
// too so repeated slot queries for them do not reach coach-service. Redis
// failures are logged and fall through to the upstream provider.
type CachedProvider struct {
	next    Provider
	rdb     *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	observe CacheObserver
}

type cachedSchedule struct {
	Found    bool                  `json:"found"`
	Schedule availability.Schedule `json:"schedule"`
}

func NewCachedProvider(next Provider, rdb *redis.Client, ttl time.Duration, logger *slog.Logger, observe CacheObserver) *CachedProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if observe == nil {
		observe = func(string) {}
	}
	return &CachedProvider{next: next, rdb: rdb, ttl: ttl, logger: logger, observe: observe}
}

func cacheKey(coachID string) string {
	return "schedule:" + coachID
}

func (p *CachedProvider) GetSchedule(ctx context.Context, coachID string) (availability.Schedule, bool, error) {
	raw, err := p.rdb.Get(ctx, cacheKey(coachID)).Bytes()
	switch {
	case err == nil:
		var entry cachedSchedule
		if err := json.Unmarshal(raw, &entry); err == nil {
			p.observe("hit")
			return entry.Schedule, entry.Found, nil
		}
		p.logger.Warn("discarding corrupt schedule cache entry", "coach_id", coachID)
		p.observe("error")
	case errors.Is(err, redis.Nil):
		p.observe("miss")
	default:
		p.logger.Warn("schedule cache read failed", "err", err, "coach_id", coachID)
		p.observe("error")
	}

	schedule, found, err := p.next.GetSchedule(ctx, coachID)
	if err != nil {
		return availability.Schedule{}, false, err
	}

	body, err := json.Marshal(cachedSchedule{Found: found, Schedule: schedule})
	if err == nil {
		if err := p.rdb.Set(ctx, cacheKey(coachID), body, p.ttl).Err(); err != nil {
			p.logger.Warn("schedule cache write failed", "err", err, "coach_id", coachID)
		}
	}
	return schedule, found, nil
}

// Invalidate drops the cached schedule of one coach.
func (p *CachedProvider) Invalidate(ctx context.Context, coachID string) error {
	return p.rdb.Del(ctx, cacheKey(coachID)).Err()
}
