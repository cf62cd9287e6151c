// Package ratelimit guards the public-facing handlers with a fixed-window
// per-client counter. The default backend is an in-process map, which limits
// per instance only; when a Redis client is supplied the count is kept in a
// shared TTL'd counter so all instances see the same window. Redis errors
// fall back to the local map rather than rejecting traffic.
package ratelimit

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type bucket struct {
	count   int
	resetAt time.Time
}

type Limiter struct {
	window time.Duration
	rdb    *redis.Client
	logger *zap.Logger
	nowFn  func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stop chan struct{}
	once sync.Once
}

// New builds a limiter and starts a background sweep that evicts expired
// buckets every window, bounding memory growth. rdb may be nil.
func New(window time.Duration, rdb *redis.Client, logger *zap.Logger) *Limiter {
	l := &Limiter{
		window:  window,
		rdb:     rdb,
		logger:  logger,
		nowFn:   time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow reports whether the caller identified by key is still within limit
// requests for the current window. The first call of a fresh window always
// succeeds and resets the count to 1.
func (l *Limiter) Allow(ctx context.Context, key string, limit int) bool {
	if key == "" {
		key = "unknown"
	}
	if l.rdb != nil {
		allowed, err := l.allowRedis(ctx, key, limit)
		if err == nil {
			return allowed
		}
		l.logger.Warn("Rate limit backend unavailable, using local counter",
			zap.String("key", key), zap.Error(err))
	}
	return l.allowLocal(key, limit)
}

func (l *Limiter) allowLocal(key string, limit int) bool {
	now := l.nowFn()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		l.buckets[key] = &bucket{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	b.count++
	return b.count <= limit
}

func (l *Limiter) allowRedis(ctx context.Context, key string, limit int) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	n, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, err
		}
	}
	return n <= int64(limit), nil
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) sweep() {
	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, key)
		}
	}
}

func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// InitRedis connects to the shared counter store when REDIS_HOST is set.
// Unset means single-instance mode: the limiter runs on its local map.
func InitRedis(logger *zap.Logger) (*redis.Client, error) {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		logger.Info("REDIS_HOST not set, rate limiting is per-instance")
		return nil, nil
	}
	port := getEnv("REDIS_PORT", "6379")
	password := os.Getenv("REDIS_PASSWORD")

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established")
	return rdb, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
