package hook

import (
	"sync"
	"time"

	"github.com/axmq/broker-core/packet"
)

const (
	// _defaultExpiryWindowMultiplier defines how many window periods to wait before cleaning up inactive rate limiters.
	// A limiter is considered inactive if it hasn't been accessed for (window * _defaultExpiryWindowMultiplier).
	_defaultExpiryWindowMultiplier = 3
	// _defaultCleanupInterval is the number of window periods between cleanup runs that remove old limiters.
	// startCleanup multiplies it by the window and never schedules a run sooner than one minute.
	_defaultCleanupInterval = 2
)

// RateLimiter is consulted before the connection processor handles a CONNECT,
// PUBLISH or SUBSCRIBE; other packet types are not counted. It is injected into the connection processor directly, like Authenticator:
// throttling gates processing, it does not merely observe it.
type RateLimiter interface {
	Allow(clientID string) bool
}

// UnlimitedRateLimiter allows every packet. It is the default when no rate
// limiter is configured.
type UnlimitedRateLimiter struct{}

// Allow always returns true.
func (UnlimitedRateLimiter) Allow(clientID string) bool {
	return true
}

type rateLimiter struct {
	count       int
	windowStart time.Time
	lastAccess  time.Time
}

// TokenBucketRateLimiter enforces a fixed-window packet rate per client ID.
type TokenBucketRateLimiter struct {
	mu           sync.RWMutex
	limiters     map[string]*rateLimiter
	maxRate      int
	window       time.Duration
	cleanupTimer *time.Timer
}

// NewTokenBucketRateLimiter creates a rate limiter allowing up to maxRate
// packets per client within window.
func NewTokenBucketRateLimiter(maxRate int, window time.Duration) *TokenBucketRateLimiter {
	r := &TokenBucketRateLimiter{
		limiters: make(map[string]*rateLimiter),
		maxRate:  maxRate,
		window:   window,
	}
	r.startCleanup()
	return r
}

// Stop stops the background cleanup timer.
func (r *TokenBucketRateLimiter) Stop() {
	if r.cleanupTimer != nil {
		r.cleanupTimer.Stop()
	}
}

// Allow reports whether clientID is still within its rate window.
func (r *TokenBucketRateLimiter) Allow(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	limiter, exists := r.limiters[clientID]

	if !exists || now.Sub(limiter.windowStart) > r.window {
		r.limiters[clientID] = &rateLimiter{
			count:       1,
			windowStart: now,
			lastAccess:  now,
		}
		return r.maxRate >= 1
	}

	limiter.lastAccess = now
	limiter.count++

	return limiter.count <= r.maxRate
}

// SetMaxRate updates the maximum rate limit.
func (r *TokenBucketRateLimiter) SetMaxRate(maxRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxRate = maxRate
}

// SetWindow updates the time window.
func (r *TokenBucketRateLimiter) SetWindow(window time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window = window
}

// GetMaxRate returns the current maximum rate.
func (r *TokenBucketRateLimiter) GetMaxRate() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxRate
}

// GetWindow returns the current time window.
func (r *TokenBucketRateLimiter) GetWindow() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.window
}

// GetClientCount returns the current count for a specific client.
func (r *TokenBucketRateLimiter) GetClientCount(clientID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	limiter, exists := r.limiters[clientID]
	if !exists {
		return 0, false
	}
	return limiter.count, true
}

// ResetClient resets the rate limit for a specific client.
func (r *TokenBucketRateLimiter) ResetClient(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, clientID)
}

// ResetAll resets all rate limiters.
func (r *TokenBucketRateLimiter) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters = make(map[string]*rateLimiter)
}

// ActiveClients returns the number of clients currently being tracked.
func (r *TokenBucketRateLimiter) ActiveClients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

func (r *TokenBucketRateLimiter) startCleanup() {
	cleanupInterval := r.window * _defaultCleanupInterval
	if cleanupInterval < time.Minute {
		cleanupInterval = time.Minute
	}

	r.cleanupTimer = time.AfterFunc(cleanupInterval, func() {
		r.cleanup()
		r.startCleanup()
	})
}

func (r *TokenBucketRateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	expiry := r.window * _defaultExpiryWindowMultiplier

	for clientID, limiter := range r.limiters {
		if now.Sub(limiter.lastAccess) > expiry {
			delete(r.limiters, clientID)
		}
	}
}

// MultiLevelRateLimitHook enforces per-client, per-topic, and global publish
// rate limits as a lifecycle Hook, alongside whatever RateLimiter is wired
// into the connection processor. RateLimiter gates CONNECT, PUBLISH and
// SUBSCRIBE on the client ID; this hook observes PUBLISH only and returns an
// error when any of its three limits is exceeded. The connection processor
// calls OnPublish after fan-out and only logs that error, so the hook does
// not stop delivery.
type MultiLevelRateLimitHook struct {
	*Base
	mu             sync.RWMutex
	perClientLimit int
	perTopicLimit  int
	globalLimit    int
	window         time.Duration
	clientLimiters map[string]*rateLimiter
	topicLimiters  map[string]*rateLimiter
	globalLimiter  *rateLimiter
	cleanupTimer   *time.Timer
}

// NewMultiLevelRateLimitHook creates a multi-level rate limiter hook.
func NewMultiLevelRateLimitHook(perClientLimit, perTopicLimit, globalLimit int, window time.Duration) *MultiLevelRateLimitHook {
	h := &MultiLevelRateLimitHook{
		Base:           NewHookBase("multi-level-rate-limit"),
		perClientLimit: perClientLimit,
		perTopicLimit:  perTopicLimit,
		globalLimit:    globalLimit,
		window:         window,
		clientLimiters: make(map[string]*rateLimiter),
		topicLimiters:  make(map[string]*rateLimiter),
		globalLimiter: &rateLimiter{
			windowStart: time.Now(),
		},
	}
	h.startCleanup()
	return h
}

// Provides indicates this hook observes publishes.
func (h *MultiLevelRateLimitHook) Provides(event Event) bool {
	return event == OnPublish
}

// Stop stops the cleanup timer.
func (h *MultiLevelRateLimitHook) Stop() error {
	if h.cleanupTimer != nil {
		h.cleanupTimer.Stop()
	}
	return nil
}

// OnPublish checks rate limits at all levels.
func (h *MultiLevelRateLimitHook) OnPublish(client *Client, pub *packet.Publish) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()

	if h.globalLimit > 0 {
		if now.Sub(h.globalLimiter.windowStart) > h.window {
			h.globalLimiter.count = 1
			h.globalLimiter.windowStart = now
		} else {
			h.globalLimiter.count++
			if h.globalLimiter.count > h.globalLimit {
				return ErrGlobalRateLimitExceeded
			}
		}
	}

	if h.perClientLimit > 0 {
		if client == nil {
			return ErrRateLimitClientNil
		}
		if err := h.checkLimit(client.ID, h.perClientLimit, now, h.clientLimiters, ErrClientRateLimitExceeded); err != nil {
			return err
		}
	}

	if h.perTopicLimit > 0 {
		if err := h.checkLimit(pub.Topic, h.perTopicLimit, now, h.topicLimiters, ErrTopicRateLimitExceeded); err != nil {
			return err
		}
	}

	return nil
}

// checkLimit checks and updates a specific limit.
func (h *MultiLevelRateLimitHook) checkLimit(key string, maxRate int, now time.Time, limiters map[string]*rateLimiter, errType error) error {
	limiter, exists := limiters[key]

	if !exists || now.Sub(limiter.windowStart) > h.window {
		limiters[key] = &rateLimiter{
			count:       1,
			windowStart: now,
			lastAccess:  now,
		}
		return nil
	}

	limiter.lastAccess = now
	limiter.count++

	if limiter.count > maxRate {
		return errType
	}

	return nil
}

// GetClientCount returns the current count for a client.
func (h *MultiLevelRateLimitHook) GetClientCount(clientID string) (int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	limiter, exists := h.clientLimiters[clientID]
	if !exists {
		return 0, false
	}
	return limiter.count, true
}

// GetTopicCount returns the current count for a topic.
func (h *MultiLevelRateLimitHook) GetTopicCount(topic string) (int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	limiter, exists := h.topicLimiters[topic]
	if !exists {
		return 0, false
	}
	return limiter.count, true
}

// GetGlobalCount returns the current global count.
func (h *MultiLevelRateLimitHook) GetGlobalCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.globalLimiter.count
}

// ResetAll resets all rate limiters.
func (h *MultiLevelRateLimitHook) ResetAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clientLimiters = make(map[string]*rateLimiter)
	h.topicLimiters = make(map[string]*rateLimiter)
	h.globalLimiter = &rateLimiter{
		windowStart: time.Now(),
	}
}

func (h *MultiLevelRateLimitHook) startCleanup() {
	cleanupInterval := h.window * _defaultCleanupInterval
	if cleanupInterval < time.Minute {
		cleanupInterval = time.Minute
	}

	h.cleanupTimer = time.AfterFunc(cleanupInterval, func() {
		h.cleanup()
		h.startCleanup()
	})
}

func (h *MultiLevelRateLimitHook) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	expiry := h.window * _defaultExpiryWindowMultiplier

	for key, limiter := range h.clientLimiters {
		if now.Sub(limiter.lastAccess) > expiry {
			delete(h.clientLimiters, key)
		}
	}

	for key, limiter := range h.topicLimiters {
		if now.Sub(limiter.lastAccess) > expiry {
			delete(h.topicLimiters, key)
		}
	}
}
