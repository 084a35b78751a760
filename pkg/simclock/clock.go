// Package simclock provides the virtual-time engine that stands in for the
// underlying discrete-event simulator (SimGrid, in the production system)
// which spec §1 treats as an external, out-of-scope collaborator. It is the
// one piece of "plumbing" every other package in this module depends on:
// a monotonically non-decreasing simulated clock, plus the ability for an
// actor goroutine to suspend until a given simulated date.
//
// The engine advances time using the classic quiescence rule used by
// time-stepped discrete-event simulators: wall-clock goroutines run freely
// (computing, sending, receiving already-available messages) but simulated
// time itself only moves forward once every live actor is blocked waiting
// on either a timer or a message that hasn't arrived yet. At that point the
// clock jumps to the earliest pending wakeup and releases everything
// scheduled for that instant, in registration order (§5: "Alarm firings at
// identical simulated dates are delivered in Alarm creation order").
package simclock

import (
	"container/heap"
	"context"
	"sync"
)

// Time is a simulated timestamp or duration, in simulated seconds.
type Time float64

// Clock drives simulated time for a single simulation run. It is not safe to
// share a Clock across independent simulation runs (see SPEC_FULL.md
// Non-goals: no persistence/sharing across runs).
type Clock struct {
	mu      sync.Mutex
	now     Time
	timers  timerHeap
	nextSeq uint64

	live    int // actors that exist and have not exited
	waiting int // actors currently blocked on a timer or a BeginWait wait
}

// New returns a Clock starting at simulated time 0.
func New() *Clock {
	return &Clock{}
}

// Now returns the current simulated time.
func (c *Clock) Now() Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// RegisterActor marks one more actor as live. Call once per spawned actor;
// call UnregisterActor exactly once when that actor's main loop returns.
func (c *Clock) RegisterActor() {
	c.mu.Lock()
	c.live++
	c.mu.Unlock()
}

// UnregisterActor marks an actor as no longer live, and may advance the
// clock if every remaining live actor is now waiting.
func (c *Clock) UnregisterActor() {
	c.mu.Lock()
	c.live--
	c.advanceIfQuiescentLocked()
	c.mu.Unlock()
}

// timerWaiter is a pending wakeup: either a pure timer (SleepUntil) or a
// mailbox-timeout registration; both are represented identically by the
// clock, which only knows "wake this channel at date X".
type timerWaiter struct {
	date Time
	seq  uint64
	ch   chan struct{}
	idx  int
}

type timerHeap []*timerWaiter

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].date != h[j].date {
		return h[i].date < h[j].date
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx, h[j].idx = i, j
}
func (h *timerHeap) Push(x interface{}) {
	w := x.(*timerWaiter)
	w.idx = len(*h)
	*h = append(*h, w)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.idx = -1
	*h = old[:n-1]
	return w
}

// SleepUntil suspends the calling actor until simulated time reaches date
// (no-op if date is already <= now, matching Alarm's "max(0, date-now)"
// rule in spec §4.2). It returns ctx.Err() if ctx is canceled first.
func (c *Clock) SleepUntil(ctx context.Context, date Time) error {
	c.mu.Lock()
	if date <= c.now {
		c.mu.Unlock()
		return nil
	}
	w := &timerWaiter{date: date, seq: c.nextSeq, ch: make(chan struct{})}
	c.nextSeq++
	heap.Push(&c.timers, w)
	c.waiting++
	c.advanceIfQuiescentLocked()
	c.mu.Unlock()

	select {
	case <-w.ch:
		// advanceIfQuiescentLocked already accounted for this wakeup when
		// it popped w off the heap and closed w.ch.
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		if w.idx >= 0 {
			heap.Remove(&c.timers, w.idx)
			c.waiting--
		}
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Sleep suspends the calling actor for a simulated duration.
func (c *Clock) Sleep(ctx context.Context, d Time) error {
	return c.SleepUntil(ctx, c.Now()+d)
}

// registerTimeout is used by the actor package's Recv(timeout) to obtain a
// channel that fires at now+timeout without going through Sleep's blocking
// select (Recv needs to race the timer against mailbox arrival itself).
func (c *Clock) registerTimeout(timeout Time) (ch <-chan struct{}, cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	date := c.now + timeout
	w := &timerWaiter{date: date, seq: c.nextSeq, ch: make(chan struct{})}
	c.nextSeq++
	heap.Push(&c.timers, w)
	c.waiting++
	c.advanceIfQuiescentLocked()
	return w.ch, func() {
		// cancel: called when the caller stopped waiting for a reason other
		// than this timer firing (e.g. a message arrived first). If the
		// timer already fired, w.idx is -1 and advanceIfQuiescentLocked has
		// already done the bookkeeping; do nothing to avoid a double
		// decrement of c.waiting.
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.idx >= 0 {
			heap.Remove(&c.timers, w.idx)
			c.waiting--
		}
	}
}

// RegisterTimeout exposes registerTimeout to sibling packages (actor) that
// need to race a mailbox receive against a simulated deadline.
func (c *Clock) RegisterTimeout(timeout Time) (ch <-chan struct{}, cancelAndUnwait func()) {
	return c.registerTimeout(timeout)
}

// BeginWait marks the calling actor as blocked on something other than a
// timer — an indefinite mailbox receive, or any other Go-level channel wait
// that only resolves via another actor's action — for quiescence
// accounting. Without this, an actor parked on an unbounded recv would
// count as live-but-never-waiting forever, and the clock could never
// advance past it even though it is doing nothing. Must be paired with
// EndWait once the wait resolves.
func (c *Clock) BeginWait() {
	c.mu.Lock()
	c.waiting++
	c.advanceIfQuiescentLocked()
	c.mu.Unlock()
}

// EndWait un-marks a wait registered with BeginWait.
func (c *Clock) EndWait() {
	c.mu.Lock()
	c.waiting--
	c.mu.Unlock()
}

// advanceIfQuiescentLocked jumps the clock forward whenever every live actor
// is blocked (live == waiting) and there is at least one pending timer. It
// may advance multiple times in a row, firing every timer due at the new
// "now" in registration order, since firing a timer can itself cause the
// woken actor to immediately re-register another timer before it does any
// real work (from the clock's point of view, work between suspensions is
// instantaneous — see §5).
func (c *Clock) advanceIfQuiescentLocked() {
	for c.live > 0 && c.live <= c.waiting && len(c.timers) > 0 {
		next := c.timers[0].date
		if next < c.now {
			next = c.now
		}
		c.now = next
		var fired []*timerWaiter
		for len(c.timers) > 0 && c.timers[0].date <= c.now {
			w := heap.Pop(&c.timers).(*timerWaiter)
			fired = append(fired, w)
		}
		// Firing reduces "waiting" optimistically; woken goroutines will
		// re-increment it themselves if they immediately re-suspend, once
		// they acquire the lock again via SleepUntil/RegisterTimeout.
		c.waiting -= len(fired)
		for _, w := range fired {
			close(w.ch)
		}
	}
}
