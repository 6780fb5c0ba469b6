// Package tick provides periodic tick sources and overflow counters.
package tick

import (
	"sync/atomic"
	"time"
)

// Source delivers periodic ticks.
type Source interface {
	// C returns the channel on which ticks are delivered.
	C() <-chan time.Time
	// Stop releases the source. No ticks are delivered afterwards.
	Stop()
}

type ticker struct {
	t *time.Ticker
}

// Every returns a Source ticking with the given period.
func Every(period time.Duration) Source {
	return &ticker{t: time.NewTicker(period)}
}

func (t *ticker) C() <-chan time.Time { return t.t.C }
func (t *ticker) Stop()               { t.t.Stop() }

// Manual is a Source driven by hand. Fire blocks until the tick is
// received, so a test knows the consumer observed it.
type Manual struct {
	ch   chan time.Time
	done chan struct{}
	now  time.Time
}

// NewManual returns a Manual source.
func NewManual() *Manual {
	return &Manual{
		ch:   make(chan time.Time),
		done: make(chan struct{}),
	}
}

func (m *Manual) C() <-chan time.Time { return m.ch }

func (m *Manual) Stop() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

// Fire delivers one tick. It returns false if the source was stopped.
func (m *Manual) Fire() bool {
	select {
	case <-m.done:
		return false
	default:
	}
	m.now = m.now.Add(time.Second)
	select {
	case m.ch <- m.now:
		return true
	case <-m.done:
		return false
	}
}

// FireN delivers n ticks.
func (m *Manual) FireN(n int) {
	for range n {
		if !m.Fire() {
			return
		}
	}
}

// Counter counts elapsed periods. It is written by one goroutine and may be
// read from any.
type Counter struct {
	n atomic.Uint64
}

// Inc advances the counter by one period and returns the new count.
func (c *Counter) Inc() uint64 {
	return c.n.Add(1)
}

// Load returns the current count.
func (c *Counter) Load() uint64 {
	return c.n.Load()
}

// Reset sets the counter back to zero.
func (c *Counter) Reset() {
	c.n.Store(0)
}
