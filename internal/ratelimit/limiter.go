// Package ratelimit throttles public requests, such as certificate code
// verification, with hourly and daily windows kept in BoltDB.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRateLimits = []byte("rate_limits")

// Level names what a counter is kept for
type Level string

const (
	LevelGlobal Level = "global"
	LevelIP     Level = "ip"
	LevelCode   Level = "code"
)

// Config contains rate limit configuration
type Config struct {
	// Global limits all requests together
	Global *Limits `yaml:"global,omitempty"`

	// PerIP limits each client address
	PerIP *Limits `yaml:"per_ip,omitempty"`

	// PerCode limits lookups of one code, whoever makes them
	PerCode *Limits `yaml:"per_code,omitempty"`

	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
}

// Enabled reports whether any limit is set
func (c *Config) Enabled() bool {
	return c != nil && (c.Global != nil || c.PerIP != nil || c.PerCode != nil)
}

// Limits are request counts per window, zero meaning unlimited
type Limits struct {
	PerHour int `yaml:"per_hour" json:"per_hour"`
	PerDay  int `yaml:"per_day" json:"per_day"`
}

// Counter tracks one key's windows
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Limiter counts requests per level and key
type Limiter struct {
	db       *bolt.DB
	config   *Config
	counters map[string]*Counter
	now      func() time.Time
	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLimiter loads persisted counters from db and starts flushing them
func NewLimiter(db *bolt.DB, cfg *Config) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRateLimits)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limits bucket: %w", err)
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		counters: make(map[string]*Counter),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}

	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	go l.persistLoop()

	return l, nil
}

// Request identifies who is asking and for what
type Request struct {
	IP   string
	Code string
}

// Result is the outcome of Allow
type Result struct {
	Allowed    bool
	DeniedBy   Level
	DeniedKey  string
	RetryAfter time.Duration
}

// Allow counts the request against every applicable limit. A denied
// request is not counted.
func (l *Limiter) Allow(ctx context.Context, req Request) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	checks := l.checks(req)

	for _, check := range checks {
		counter := l.counter(check.key, now)
		resetExpired(counter, now)

		if check.limit.PerHour > 0 && counter.HourlyCount >= check.limit.PerHour {
			return Result{
				DeniedBy:   check.level,
				DeniedKey:  check.key,
				RetryAfter: counter.HourStart.Add(time.Hour).Sub(now),
			}
		}
		if check.limit.PerDay > 0 && counter.DailyCount >= check.limit.PerDay {
			return Result{
				DeniedBy:   check.level,
				DeniedKey:  check.key,
				RetryAfter: counter.DayStart.Add(24 * time.Hour).Sub(now),
			}
		}
	}

	for _, check := range checks {
		counter := l.counters[check.key]
		counter.HourlyCount++
		counter.DailyCount++
	}

	return Result{Allowed: true}
}

// Stats returns the live counts of one key
func (l *Limiter) Stats(level Level, key string) Counter {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counter, ok := l.counters[makeKey(level, key)]
	if !ok {
		return Counter{}
	}

	stats := *counter
	now := l.now()
	if now.Sub(counter.HourStart) >= time.Hour {
		stats.HourlyCount = 0
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		stats.DailyCount = 0
	}
	return stats
}

// Stop stops flushing and persists the counters one last time
func (l *Limiter) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	return l.persistCounters()
}

type limitCheck struct {
	level Level
	key   string
	limit *Limits
}

func (l *Limiter) checks(req Request) []limitCheck {
	var checks []limitCheck

	if l.config.Global != nil {
		checks = append(checks, limitCheck{
			level: LevelGlobal,
			key:   makeKey(LevelGlobal, "global"),
			limit: l.config.Global,
		})
	}
	if req.IP != "" && l.config.PerIP != nil {
		checks = append(checks, limitCheck{
			level: LevelIP,
			key:   makeKey(LevelIP, req.IP),
			limit: l.config.PerIP,
		})
	}
	if req.Code != "" && l.config.PerCode != nil {
		checks = append(checks, limitCheck{
			level: LevelCode,
			key:   makeKey(LevelCode, req.Code),
			limit: l.config.PerCode,
		})
	}

	return checks
}

func (l *Limiter) counter(key string, now time.Time) *Counter {
	counter, ok := l.counters[key]
	if !ok {
		counter = &Counter{HourStart: now, DayStart: now}
		l.counters[key] = counter
	}
	return counter
}

func resetExpired(counter *Counter, now time.Time) {
	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // Skip invalid entries
			}
			l.counters[string(k)] = &counter
			return nil
		})
	})
}

// persistCounters writes live counters and drops those idle for a day
func (l *Limiter) persistCounters() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		for key, counter := range l.counters {
			if now.Sub(counter.DayStart) >= 24*time.Hour {
				delete(l.counters, key)
				if err := bucket.Delete([]byte(key)); err != nil {
					return err
				}
				continue
			}
			data, err := json.Marshal(counter)
			if err != nil {
				continue
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistCounters()
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
