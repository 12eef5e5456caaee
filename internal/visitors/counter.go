// Package visitors keeps daily visitor tallies in Redis. The earlier
// incarnation counted visitors in per-browser local storage, which made every
// browser its own source of truth; a single INCR per hit makes the count
// authoritative and race-free.
package visitors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "visitors:"

// retention bounds how long daily keys survive; stats older than this are
// not served anyway.
const retention = 400 * 24 * time.Hour

// DayCount is one day's visitor total.
type DayCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Counter tallies site visits per calendar day (UTC).
type Counter struct {
	client *redis.Client
	now    func() time.Time
}

func NewCounter(client *redis.Client) *Counter {
	return &Counter{client: client, now: time.Now}
}

func dayKey(t time.Time) string {
	return keyPrefix + t.UTC().Format("2006-01-02")
}

// Hit records one visit and returns today's total. The INCR is atomic, so
// concurrent hits never lose a count.
func (c *Counter) Hit(ctx context.Context) (int64, error) {
	key := dayKey(c.now())
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment visitors: %w", err)
	}
	if count == 1 {
		// First hit of the day creates the key; cap its lifetime.
		if err := c.client.Expire(ctx, key, retention).Err(); err != nil {
			return 0, fmt.Errorf("expire visitors key: %w", err)
		}
	}
	return count, nil
}

// Today returns today's total without recording a visit.
func (c *Counter) Today(ctx context.Context) (int64, error) {
	count, err := c.client.Get(ctx, dayKey(c.now())).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read visitors: %w", err)
	}
	return count, nil
}

// History returns per-day counts for the last days days, oldest first. Days
// with no traffic report zero.
func (c *Counter) History(ctx context.Context, days int) ([]DayCount, error) {
	if days <= 0 {
		days = 7
	}
	today := c.now().UTC()
	counts := make([]DayCount, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		count, err := c.client.Get(ctx, dayKey(day)).Int64()
		if errors.Is(err, redis.Nil) {
			count = 0
		} else if err != nil {
			return nil, fmt.Errorf("read visitors history: %w", err)
		}
		counts = append(counts, DayCount{Date: day.Format("2006-01-02"), Count: count})
	}
	return counts, nil
}
