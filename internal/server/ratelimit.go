package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces per-client request windows and daily quotas.
// Minute and hour limits use sliding windows; daily quotas reset at local
// midnight.
type RateLimiter struct {
	mu sync.Mutex

	perMinute  int
	perHour    int
	perDay     int
	dataPerDay int64

	clients map[string]*clientUsage
	now     func() time.Time
}

type clientUsage struct {
	hits     []time.Time // requests within the last hour, oldest first
	day      time.Time   // midnight of the day the counters belong to
	today    int
	bytesDay int64
}

// Usage is a snapshot of one client's consumption.
type Usage struct {
	LastMinute int   `json:"last_minute"`
	LastHour   int   `json:"last_hour"`
	Today      int   `json:"today"`
	BytesToday int64 `json:"bytes_today"`
}

// NewRateLimiter creates a limiter. A zero limit is not enforced.
func NewRateLimiter(perMinute, perHour, perDay int, dataPerDay int64) *RateLimiter {
	return &RateLimiter{
		perMinute:  perMinute,
		perHour:    perHour,
		perDay:     perDay,
		dataPerDay: dataPerDay,
		clients:    make(map[string]*clientUsage),
		now:        time.Now,
	}
}

// CheckRateLimit admits or rejects one request of size bytes from client.
// Rejected requests are not counted.
func (rl *RateLimiter) CheckRateLimit(client string, size int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u := rl.usage(client, now)

	if rl.perMinute > 0 {
		if n, oldest := u.within(now, time.Minute); n >= rl.perMinute {
			return &RateLimitError{Type: "minute", Limit: rl.perMinute, RetryAfter: oldest.Add(time.Minute).Sub(now)}
		}
	}
	if rl.perHour > 0 {
		if n, oldest := u.within(now, time.Hour); n >= rl.perHour {
			return &RateLimitError{Type: "hour", Limit: rl.perHour, RetryAfter: oldest.Add(time.Hour).Sub(now)}
		}
	}

	resets := u.day.AddDate(0, 0, 1)
	if rl.perDay > 0 && u.today >= rl.perDay {
		return &QuotaExceededError{Type: "requests", Limit: int64(rl.perDay), Used: int64(u.today), Resets: resets}
	}
	if rl.dataPerDay > 0 && u.bytesDay+size > rl.dataPerDay {
		return &QuotaExceededError{Type: "data", Limit: rl.dataPerDay, Used: u.bytesDay, Resets: resets}
	}

	u.hits = append(u.hits, now)
	u.today++
	u.bytesDay += size
	return nil
}

// Usage reports the current consumption of client.
func (rl *RateLimiter) Usage(client string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	u, ok := rl.clients[client]
	if !ok {
		return Usage{}
	}
	now := rl.now()
	minute, _ := u.within(now, time.Minute)
	hour, _ := u.within(now, time.Hour)
	return Usage{LastMinute: minute, LastHour: hour, Today: u.today, BytesToday: u.bytesDay}
}

func (rl *RateLimiter) usage(client string, now time.Time) *clientUsage {
	day := midnight(now)
	u, ok := rl.clients[client]
	if !ok {
		u = &clientUsage{day: day}
		rl.clients[client] = u
	}
	if !u.day.Equal(day) {
		u.day, u.today, u.bytesDay = day, 0, 0
	}
	// drop hits older than the longest window
	cut := 0
	for cut < len(u.hits) && now.Sub(u.hits[cut]) >= time.Hour {
		cut++
	}
	u.hits = u.hits[cut:]
	return u
}

// within counts hits inside window and returns the oldest of them.
func (u *clientUsage) within(now time.Time, window time.Duration) (int, time.Time) {
	for i, t := range u.hits {
		if now.Sub(t) < window {
			return len(u.hits) - i, t
		}
	}
	return 0, time.Time{}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RateLimitError reports a request window violation.
type RateLimitError struct {
	Type       string // "minute" or "hour"
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter.Round(time.Second))
}

// QuotaExceededError reports a daily quota violation.
type QuotaExceededError struct {
	Type   string // "requests" or "data"
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
