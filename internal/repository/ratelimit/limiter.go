// Package ratelimit enforces a fixed-window request quota per identity,
// backed by atomic counters in the shared key-value store so that all
// service instances observe the same limits.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const keySuffix = "rate:"

// store is the consumer interface for the limiter counters (ISP).
type store interface {
	IncrBy(ctx context.Context, key string, val int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Limiter is a fixed-window counter keyed by (identity, window id).
// The counter is incremented even for rejected calls, so sustained overload
// cannot let a window catch up. If the counter store is unreachable the
// limiter fails open, favoring search availability over strict enforcement.
type Limiter struct {
	store     store
	keyPrefix string
	max       int64
	window    time.Duration
	rateTotal *prometheus.CounterVec
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a fixed-window limiter allowing max requests per window.
// rateTotal is a counter vec with label "decision", may be nil.
func New(
	s store,
	keyPrefix string,
	max int,
	window time.Duration,
	rateTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *Limiter {
	return &Limiter{
		store:     s,
		keyPrefix: keyPrefix + keySuffix,
		max:       int64(max),
		window:    window,
		rateTotal: rateTotal,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow atomically increments the caller's counter for the current window
// and reports whether the call is within quota.
func (l *Limiter) Allow(ctx context.Context, identity string) bool {
	key := l.key(identity)

	n, err := l.store.IncrBy(ctx, key, 1)
	if err != nil {
		l.logger.Warn("Rate limit store unreachable, failing open",
			zap.String("identity", identity), zap.Error(err))
		l.inc("fail_open")
		return true
	}

	// Janitorial TTL: the window id in the key enforces the boundary, the
	// expiry only reclaims stale window keys. NX keeps the first deadline.
	if err := l.store.Expire(ctx, key, 2*l.window, true); err != nil {
		l.logger.Debug("Rate limit key expire failed", zap.String("key", key), zap.Error(err))
	}

	if n > l.max {
		l.inc("limited")
		return false
	}

	l.inc("allowed")
	return true
}

// key scopes the counter to the identity and the current fixed window.
func (l *Limiter) key(identity string) string {
	windowID := l.now().Unix() / int64(l.window.Seconds())
	return l.keyPrefix + identity + ":" + strconv.FormatInt(windowID, 10)
}

func (l *Limiter) inc(decision string) {
	if l.rateTotal != nil {
		l.rateTotal.WithLabelValues(decision).Inc()
	}
}
