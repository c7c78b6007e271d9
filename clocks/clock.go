package clocks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	Every(d time.Duration, fn func(), label string) *Ticker
}

type Ticker struct {
	cancel  context.CancelFunc
	trigger func()
}

func (t *Ticker) Stop() {
	t.cancel()
}

// Immediately trigger the configured function, resetting the time before the
// next tick.
func (t *Ticker) Trigger() {
	t.trigger()
}

type SystemClock struct{}

func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

func (c *SystemClock) Now() time.Time {
	return time.Now()
}

func (c *SystemClock) Every(d time.Duration, fn func(), _label string) *Ticker {
	ticker := time.NewTicker(d)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()

	return &Ticker{
		cancel: cancel,
		trigger: func() {
			fn()
			ticker.Reset(d)
		},
	}
}

var _ Clock = (*SystemClock)(nil)

// FrozenClock only moves when told to. Periodic functions registered with
// Every run when the test ticks them by label.
type FrozenClock struct {
	now        time.Time
	everyFuncs map[string]func()
	mu         *sync.Mutex
}

func NewFrozenClock() *FrozenClock {
	return &FrozenClock{
		now:        time.Unix(0, 0),
		everyFuncs: make(map[string]func()),
		mu:         &sync.Mutex{},
	}
}

func NewFrozenClockAt(t time.Time) *FrozenClock {
	c := NewFrozenClock()
	c.now = t
	return c
}

func (c *FrozenClock) Now() time.Time {
	return c.now
}

func (c *FrozenClock) Every(d time.Duration, fn func(), label string) *Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.everyFuncs[label] = fn
	return &Ticker{
		cancel:  func() {},
		trigger: fn,
	}
}

func (c *FrozenClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func (c *FrozenClock) TickEvery(label string) {
	c.mu.Lock()
	fn := c.everyFuncs[label]
	c.mu.Unlock()

	if fn == nil {
		panic(fmt.Sprintf("FrozenClock has no `every` func registered for label %s", label))
	}
	fn()
}

var _ Clock = (*FrozenClock)(nil)
