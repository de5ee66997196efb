package queue

import (
	"sync"
	"time"
)

// Default backoff bounds for the rate limit controller.
const (
	// DefaultBackoffFloor is the initial wait after a throttling signal.
	DefaultBackoffFloor = 5 * time.Second

	// DefaultBackoffMax caps the escalated backoff duration.
	DefaultBackoffMax = 60 * time.Second
)

// RateLimitController tracks whether the system is currently throttled by
// the analysis service and manages exponential backoff with decay:
// pessimistic on repeated throttling, optimistic only after sustained clean
// operation. Its two fields are process-wide shared state, so all mutation
// is routed through the mutex.
type RateLimitController struct {
	mu        sync.Mutex
	throttled bool
	backoff   time.Duration
	floor     time.Duration
	max       time.Duration
	timer     *time.Timer
}

// NewRateLimitController creates a controller starting at the floor backoff.
// Non-positive bounds fall back to the defaults.
func NewRateLimitController(floor, max time.Duration) *RateLimitController {
	if floor <= 0 {
		floor = DefaultBackoffFloor
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	return &RateLimitController{
		backoff: floor,
		floor:   floor,
		max:     max,
	}
}

// NotifyThrottled marks the controller throttled and arms a timer for the
// current backoff duration, doubling the duration (capped at the maximum)
// for use if throttling recurs soon. A signal while already throttled is a
// no-op: one in-flight backoff window covers the whole batch.
func (c *RateLimitController) NotifyThrottled() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.throttled {
		return
	}

	c.throttled = true
	wait := c.backoff

	c.backoff *= 2
	if c.backoff > c.max {
		c.backoff = c.max
	}

	c.timer = time.AfterFunc(wait, c.expire)
}

// expire clears the throttled flag when the backoff window ends.
func (c *RateLimitController) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.throttled = false
}

// Throttled reports whether dispatch is currently paused.
func (c *RateLimitController) Throttled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throttled
}

// Relax resets the escalated backoff to the floor. Callers invoke it only
// after a sustained run of clean batches, so a single lucky batch cannot
// reset protection prematurely.
func (c *RateLimitController) Relax() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backoff > c.floor {
		c.backoff = c.floor
	}
}

// CurrentBackoff returns the wait the next throttling signal would impose.
func (c *RateLimitController) CurrentBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff
}

// Stop cancels a pending backoff timer, leaving the throttled flag as-is.
func (c *RateLimitController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
}
