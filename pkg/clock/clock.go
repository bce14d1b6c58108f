package clock

import (
	"sync/atomic"
	"time"
)

// DefaultInterval is the reference tick period: one tick per millisecond.
const DefaultInterval = time.Millisecond

// Clock is a logical counter advanced by a tick loop and overwritten by
// synchronization. The value wraps on overflow.
type Clock struct {
	v atomic.Int64
}

func New(seed int64) *Clock {
	c := &Clock{}
	c.v.Store(seed)
	return c
}

func (c *Clock) Tick() { c.v.Add(1) }

func (c *Clock) Set(v int64) { c.v.Store(v) }

func (c *Clock) Read() int64 { return c.v.Load() }

// Run ticks once per interval until stop is closed. A non-positive interval
// freezes the clock: Run just waits for stop.
func (c *Clock) Run(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		<-stop
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.Tick()
		}
	}
}
