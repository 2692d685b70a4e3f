package camrelay

import "time"

// ShouldEmit reports whether a frame observed at now should be forwarded
// given the last emission time and the target interval between frames. A
// zero or negative interval means always emit. Pure; no side effects.
func ShouldEmit(now, lastEmit time.Time, targetInterval time.Duration) bool {
	if targetInterval <= 0 {
		return true
	}
	return now.Sub(lastEmit) >= targetInterval
}

// A RateLimiter decides per frame whether to emit or drop in order to hold
// a target frame rate. The caller must not block on a drop; it re-polls the
// source on the next loop iteration so shutdown stays responsive.
type RateLimiter struct {
	interval time.Duration
	lastEmit time.Time
}

// NewRateLimiter returns a limiter holding the given interval between
// emitted frames, typically StreamConfig.FrameInterval. A non-positive
// interval disables limiting.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	if interval < 0 {
		interval = 0
	}
	return &RateLimiter{interval: interval}
}

// Keep reports whether the current frame should be forwarded, advancing the
// emission clock when it is.
func (rl *RateLimiter) Keep(now time.Time) bool {
	if !ShouldEmit(now, rl.lastEmit, rl.interval) {
		return false
	}
	rl.lastEmit = now
	return true
}

// Interval returns the target interval between emitted frames.
func (rl *RateLimiter) Interval() time.Duration {
	return rl.interval
}
