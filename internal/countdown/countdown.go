// Package countdown runs per-session question countdowns. Ticks land once
// per second, the expiry callback fires exactly once strictly after the
// final tick, and Cancel closes the race: once it returns, no further
// callback for that session runs.
package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type (
	TickFunc   func(remaining int)
	ExpireFunc func()
)

// Runner owns all live countdowns, keyed by session ID. The clock is
// injected so countdowns are driven by a fake clock in tests.
type Runner struct {
	clock clockwork.Clock

	mu     sync.Mutex
	active map[string]*countdown
}

func NewRunner(clock clockwork.Clock) *Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Runner{
		clock:  clock,
		active: make(map[string]*countdown),
	}
}

// Start begins a countdown of seconds for the session. onTick is invoked
// once per elapsed second with the remaining count, down to and including
// 0; onExpire follows the final tick. Any countdown already running for
// the session is canceled first, so at most one is live per session.
func (r *Runner) Start(sessionID string, seconds int, onTick TickFunc, onExpire ExpireFunc) {
	c := &countdown{stop: make(chan struct{})}

	r.mu.Lock()
	prev := r.active[sessionID]
	r.active[sessionID] = c
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	go r.run(sessionID, c, seconds, onTick, onExpire)
}

// Cancel stops the session's countdown. Safe to call when none is
// running. When Cancel returns, any in-flight callback has completed and
// no further one will fire.
func (r *Runner) Cancel(sessionID string) {
	r.mu.Lock()
	c := r.active[sessionID]
	delete(r.active, sessionID)
	r.mu.Unlock()

	if c != nil {
		c.cancel()
	}
}

// CancelAll stops every live countdown. Used on shutdown so no timer
// fires into torn-down state.
func (r *Runner) CancelAll() {
	r.mu.Lock()
	all := make([]*countdown, 0, len(r.active))
	for _, c := range r.active {
		all = append(all, c)
	}
	r.active = make(map[string]*countdown)
	r.mu.Unlock()

	for _, c := range all {
		c.cancel()
	}
}

func (r *Runner) run(sessionID string, c *countdown, seconds int, onTick TickFunc, onExpire ExpireFunc) {
	ticker := r.clock.NewTicker(time.Second)
	defer ticker.Stop()

	remaining := seconds
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			remaining--
			if !c.fire(func() { onTick(remaining) }) {
				return
			}

			if remaining <= 0 {
				c.fire(onExpire)
				r.forget(sessionID, c)
				return
			}
		}
	}
}

// forget removes the finished countdown unless a newer one replaced it.
func (r *Runner) forget(sessionID string, c *countdown) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[sessionID] == c {
		delete(r.active, sessionID)
	}
}

type countdown struct {
	stop     chan struct{}
	stopOnce sync.Once

	// fireMu serializes callback invocation against cancel, so cancel
	// cannot return while a callback is mid-flight.
	fireMu   sync.Mutex
	canceled bool
}

func (c *countdown) fire(f func()) bool {
	c.fireMu.Lock()
	defer c.fireMu.Unlock()

	if c.canceled {
		return false
	}

	f()
	return true
}

func (c *countdown) cancel() {
	// Closing stop before taking fireMu lets a callback blocked on
	// sending work observe the cancellation instead of deadlocking.
	c.stopOnce.Do(func() { close(c.stop) })

	c.fireMu.Lock()
	c.canceled = true
	c.fireMu.Unlock()
}
