package restream

import "time"

// deferredAction is a single-outstanding one-shot timer owned by the
// control loop. Arming replaces any pending deadline, so repeated
// failure signals collapse into one scheduled action and two firings
// can never overlap.
//
// The timer goroutine only runs the deliver callback, which must hand
// the firing off to the control loop (it carries the generation for
// that). Everything else is control-loop-only state.
type deferredAction struct {
	gen   uint64
	timer *time.Timer
}

// Arm schedules deliver to run after d, cancelling any pending
// deadline first. deliver receives the generation it was armed with;
// the loop validates it through Consume before acting, which filters
// firings that raced a cancel or a re-arm.
func (a *deferredAction) Arm(d time.Duration, deliver func(gen uint64)) {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(d, func() { deliver(gen) })
}

// Consume reports whether a firing with the given generation is the
// one currently armed, and disarms it if so. Stale firings report
// false and must be dropped by the caller.
func (a *deferredAction) Consume(gen uint64) bool {
	if a.timer == nil || gen != a.gen {
		return false
	}
	a.timer = nil
	return true
}

// Cancel discards any pending deadline. A firing already in flight is
// invalidated by the generation bump.
func (a *deferredAction) Cancel() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
}

// Pending reports whether a deadline is armed and not yet consumed.
func (a *deferredAction) Pending() bool { return a.timer != nil }
