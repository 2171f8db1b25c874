// Package ratelimit implements per-key token bucket rate limiting with
// monotonic-time refill, used to gate senders in the policy engine.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures a Limiter's default bucket shape.
type Config struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 5.0, BurstSize: 10}
}

// bucket implements token bucket rate limiting using monotonic clock reads
// so that wall-clock jumps (NTP adjustments, manual clock changes) never
// cause a spurious refill.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(cfg Config) *bucket {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5.0
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(cfg.RequestsPerSecond * 2)
	}
	return &bucket{
		tokens:     float64(cfg.BurstSize),
		maxTokens:  float64(cfg.BurstSize),
		refillRate: cfg.RequestsPerSecond,
		lastRefill: time.Now(),
	}
}

// allow refills the bucket for elapsed monotonic time, then debits cost if
// enough tokens are available.
func (b *bucket) allow(cost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= cost {
		b.tokens -= cost
		return true
	}
	return false
}

func (b *bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Limiter maps principal keys to independent token buckets. Buckets are
// created lazily on first use and never evicted — acceptable because the
// key space is bounded by the number of distinct senders a deployment sees.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cfg     Config
}

// NewLimiter creates a Limiter using cfg as the shape for every new bucket.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		cfg:     cfg,
	}
}

// Allow debits one token from key's bucket, creating the bucket if this is
// the first time key has been seen.
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, 1)
}

// AllowN debits cost tokens from key's bucket.
func (l *Limiter) AllowN(key string, cost float64) bool {
	return l.bucketFor(key).allow(cost)
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(l.cfg)
		l.buckets[key] = b
	}
	return b
}

// SetConfig replaces the shape used for buckets created from now on. Existing
// buckets keep their current token count and their prior shape, matching
// config.set's "takes effect going forward" semantics.
func (l *Limiter) SetConfig(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
}
