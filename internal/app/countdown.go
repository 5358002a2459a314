package app

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// DefaultTickInterval is how often a countdown recomputes the remaining time.
const DefaultTickInterval = time.Second

var errCountdownStarted = errors.New("countdown already started")

// CountdownState is the lifecycle of a Countdown. Expired and Cancelled are terminal.
type CountdownState int32

const (
	CountdownIdle CountdownState = iota
	CountdownRunning
	CountdownExpired
	CountdownCancelled
)

func (s CountdownState) String() string {
	switch s {
	case CountdownIdle:
		return "idle"
	case CountdownRunning:
		return "running"
	case CountdownExpired:
		return "expired"
	case CountdownCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Countdown counts seconds down to an absolute deadline.
//
// Every tick recomputes the remaining seconds from the deadline instead of decrementing a
// counter, so slow, skipped or coalesced ticks never make it drift.
type Countdown struct {
	clock    Clock
	budget   time.Duration
	interval time.Duration
	onExpire func()
	onTick   func(remaining int)

	mu        sync.Mutex
	state     CountdownState
	deadline  time.Time
	remaining int
	stop      chan struct{}
	done      chan struct{}
}

// NewCountdown prepares a countdown of budget. onExpire runs once, on the tick that first
// observes the deadline.
func NewCountdown(clock Clock, budget, interval time.Duration, onExpire func()) *Countdown {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Countdown{
		clock:     clock,
		budget:    budget,
		interval:  interval,
		onExpire:  onExpire,
		remaining: secondsUntil(budget),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// OnTick registers an observer of every recomputed value. It must be set before Start.
func (c *Countdown) OnTick(fn func(remaining int)) {
	c.mu.Lock()
	c.onTick = fn
	c.mu.Unlock()
}

// Start anchors the deadline to now and begins ticking. The ticker is released when the
// countdown expires, is cancelled, or ctx is done.
func (c *Countdown) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != CountdownIdle {
		c.mu.Unlock()
		return errCountdownStarted
	}
	now := c.clock.Now()
	c.state = CountdownRunning
	c.deadline = now.Add(c.budget)
	c.remaining = secondsUntil(c.deadline.Sub(now))
	ticker := c.clock.NewTicker(c.interval)
	c.mu.Unlock()

	go c.run(ctx, ticker)
	return nil
}

func (c *Countdown) run(ctx context.Context, ticker Ticker) {
	defer close(c.done)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			c.Cancel()
			return
		case <-ticker.C():
			c.Tick()
		}
	}
}

// Tick recomputes the remaining seconds. The first tick that reaches zero moves the
// countdown to expired and fires onExpire; the check and the transition happen under one
// lock so no later tick can fire it again.
func (c *Countdown) Tick() int {
	c.mu.Lock()
	if c.state != CountdownRunning {
		remaining := c.remaining
		c.mu.Unlock()
		return remaining
	}

	remaining := secondsUntil(c.deadline.Sub(c.clock.Now()))
	expired := remaining <= 0
	if expired {
		remaining = 0
		c.state = CountdownExpired
		close(c.stop)
	}
	c.remaining = remaining
	onTick, onExpire := c.onTick, c.onExpire
	c.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if expired && onExpire != nil {
		onExpire()
	}
	return remaining
}

// Cancel stops a countdown that has not expired. It reports whether it changed the state.
func (c *Countdown) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CountdownIdle:
		c.state = CountdownCancelled
		close(c.stop)
		close(c.done)
	case CountdownRunning:
		c.state = CountdownCancelled
		close(c.stop)
	default:
		return false
	}
	return true
}

// Remaining returns the last computed number of seconds left, never negative.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Countdown) State() CountdownState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Deadline is zero until Start.
func (c *Countdown) Deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}

// Done is closed once the tick loop has exited and released its ticker.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}

func secondsUntil(d time.Duration) int {
	secs := int(math.Floor(d.Seconds()))
	if secs < 0 {
		return 0
	}
	return secs
}
