package coordinator

import (
	"sync"
	"time"
)

// Scheduler drives the periodic backup flush. Coordinators depend on it as
// a capability so tests advance virtual time instead of sleeping.
type Scheduler interface {
	Now() time.Time
	// Every runs fn at the given interval until the returned stop func is
	// called.
	Every(interval time.Duration, fn func()) (stop func())
}

// WallClock schedules on real time.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

func (WallClock) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// VirtualClock is a deterministic scheduler for tests. Advance moves time
// forward and fires due tasks on the calling goroutine, in deadline order.
type VirtualClock struct {
	now   time.Time
	tasks map[int]*virtualTask
	seq   int
}

type virtualTask struct {
	interval time.Duration
	next     time.Time
	fn       func()
}

func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start, tasks: make(map[int]*virtualTask)}
}

func (c *VirtualClock) Now() time.Time { return c.now }

func (c *VirtualClock) Every(interval time.Duration, fn func()) func() {
	c.seq++
	id := c.seq
	c.tasks[id] = &virtualTask{interval: interval, next: c.now.Add(interval), fn: fn}
	return func() { delete(c.tasks, id) }
}

func (c *VirtualClock) Advance(d time.Duration) {
	target := c.now.Add(d)
	for {
		var due *virtualTask
		for _, t := range c.tasks {
			if t.next.After(target) {
				continue
			}
			if due == nil || t.next.Before(due.next) {
				due = t
			}
		}
		if due == nil {
			break
		}
		c.now = due.next
		due.next = due.next.Add(due.interval)
		due.fn()
	}
	c.now = target
}
