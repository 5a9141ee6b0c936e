// Package ratelimit implements the Gateway's in-memory, per-instance
// aggregate-feedback throttle. It is deliberately not synchronized across
// Gateway instances; each instance drifts independently and the throttle
// is best-effort.
package ratelimit

import (
	"sync"
	"time"
)

// PerModelCooldown is how long a model's get_feedback throttle stays tripped
// after a store-backed aggregation.
const PerModelCooldown = 1800 * time.Second

// GlobalCooldown is the minimum spacing between any two get_feedback calls
// that actually consult the store, regardless of model.
const GlobalCooldown = 120 * time.Second

// FeedbackThrottle tracks the next-allowed timestamps for get_feedback.
type FeedbackThrottle struct {
	mu           sync.Mutex
	nextGlobal   time.Time
	nextPerModel map[string]time.Time
}

// New builds an empty throttle, open for every model.
func New() *FeedbackThrottle {
	return &FeedbackThrottle{nextPerModel: map[string]time.Time{}}
}

// Allowed reports whether a get_feedback call for model is currently allowed
// at now, and if not, the epoch-second timestamp at which it will be. The
// returned deadline is padded by one second so a client retrying exactly at
// the deadline does not race the server.
func (t *FeedbackThrottle) Allowed(model string, now time.Time) (ok bool, retryAt float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if next, ok := t.nextPerModel[model]; ok && now.Before(next) {
		return false, float64(next.Unix()) + 1
	}
	if now.Before(t.nextGlobal) {
		return false, float64(t.nextGlobal.Unix()) + 1
	}
	return true, 0
}

// RecordConsulted bumps both the per-model and global cooldowns after a
// get_feedback call actually reads the store.
func (t *FeedbackThrottle) RecordConsulted(model string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextPerModel[model] = now.Add(PerModelCooldown)
	t.nextGlobal = now.Add(GlobalCooldown)
}
