package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"PredPulse/internal/domain/models"
)

// entry stores a finished computation, success or failure, with its lifetime.
type entry struct {
	value   *models.PredictionResult
	err     error
	created time.Time // carries a monotonic reading; expiry never trusts wall clock
	ttl     time.Duration
}

func (e *entry) expired() bool {
	return time.Since(e.created) >= e.ttl
}

// ComputeFunc produces a prediction for a fingerprint on cache miss.
type ComputeFunc func() (*models.PredictionResult, error)

// Option configures InferenceCache.
type Option func(*InferenceCache)

// WithTTLs sets success and failure entry lifetimes.
func WithTTLs(success, failure time.Duration) Option {
	return func(c *InferenceCache) {
		if success > 0 {
			c.successTTL = success
		}
		if failure > 0 {
			c.failureTTL = failure
		}
	}
}

// WithMaxEntries bounds the total entry count.
func WithMaxEntries(n int) Option {
	return func(c *InferenceCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithSweepInterval sets the periodic expired-entry sweep cadence.
func WithSweepInterval(d time.Duration) Option {
	return func(c *InferenceCache) {
		if d > 0 {
			c.sweepEvery = d
		}
	}
}

// InferenceCache deduplicates identical inference requests. Concurrent
// callers for one fingerprint share a single in-flight computation; finished
// results, including failures, are kept for a bounded lifetime. Failures
// expire sooner than successes so a broken model is not hammered but
// recovery is observed quickly.
type InferenceCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group

	successTTL time.Duration
	failureTTL time.Duration
	maxEntries int
	sweepEvery time.Duration

	ticker *time.Ticker
	done   chan struct{}
}

// New creates an inference cache and starts its sweep loop.
func New(opts ...Option) *InferenceCache {
	c := &InferenceCache{
		entries:    make(map[string]*entry),
		successTTL: 30 * time.Second,
		failureTTL: 3 * time.Second,
		maxEntries: 10000,
		sweepEvery: time.Minute,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ticker = time.NewTicker(c.sweepEvery)
	go c.sweepLoop()
	return c
}

// GetOrCompute returns the cached result for key, or invokes fn exactly once
// across all concurrent callers and caches its outcome. The second return
// reports whether the result came from a finished cache entry.
func (c *InferenceCache) GetOrCompute(key string, fn ComputeFunc) (*models.PredictionResult, bool, error) {
	if v, err, ok := c.lookup(key); ok {
		return v, true, err
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A flight that finished between our lookup and Do may have stored.
		if v, err, ok := c.lookup(key); ok {
			return cachedResult{v, err, true}, nil
		}
		res, err := fn()
		c.store(key, res, err)
		return cachedResult{res, err, false}, nil
	})
	if err != nil {
		// Do itself never fails here; fn errors travel inside cachedResult.
		return nil, false, err
	}
	cr := v.(cachedResult)
	return cr.value, cr.hit, cr.err
}

type cachedResult struct {
	value *models.PredictionResult
	err   error
	hit   bool
}

// lookup returns the live entry for key, removing it lazily when expired.
func (c *InferenceCache) lookup(key string) (*models.PredictionResult, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, nil, false
	}
	if e.expired() {
		delete(c.entries, key)
		return nil, nil, false
	}
	return e.value, e.err, true
}

func (c *InferenceCache) store(key string, value *models.PredictionResult, err error) {
	ttl := c.successTTL
	if err != nil {
		ttl = c.failureTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = &entry{value: value, err: err, created: time.Now(), ttl: ttl}
}

// evictOldest removes the oldest-created entry. Insertion order, not access
// order: a hot entry close to expiry still goes before a cold fresh one.
// Must be called with the lock held.
func (c *InferenceCache) evictOldest() {
	var oldestKey string
	var oldest time.Time

	for key, e := range c.entries {
		if oldestKey == "" || e.created.Before(oldest) {
			oldest = e.created
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *InferenceCache) sweepLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.ticker.C:
			c.mu.Lock()
			for key, e := range c.entries {
				if e.expired() {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Len returns the current entry count.
func (c *InferenceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the sweep loop.
func (c *InferenceCache) Close() error {
	c.ticker.Stop()
	close(c.done)
	return nil
}
