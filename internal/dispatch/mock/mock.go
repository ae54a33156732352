// Package mock provides recording test doubles for the dispatch side-effect
// interfaces.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/atlas/internal/dispatch"
)

var (
	_ dispatch.Opener    = (*Opener)(nil)
	_ dispatch.Notifier  = (*Notifier)(nil)
	_ dispatch.OrderSink = (*Orders)(nil)
)

// Opener records every opened URL.
type Opener struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from Open.
	Err error

	// URLs lists every URL passed to Open.
	URLs []string
}

// Open implements dispatch.Opener.
func (o *Opener) Open(url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.URLs = append(o.URLs, url)
	return o.Err
}

// Opened returns a copy of URLs.
func (o *Opener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.URLs...)
}

// Notification is one recorded Notify call.
type Notification struct {
	Title string
	Body  string
}

// Notifier records notifications.
type Notifier struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from Notify.
	Err error

	sent []Notification
}

// Notify implements dispatch.Notifier.
func (n *Notifier) Notify(title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{Title: title, Body: body})
	return n.Err
}

// Sent returns every recorded notification.
func (n *Notifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

// Orders records placed orders.
type Orders struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from Place.
	Err error

	placed []dispatch.Order
}

// Place implements dispatch.OrderSink.
func (o *Orders) Place(_ context.Context, ord dispatch.Order) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.placed = append(o.placed, ord)
	return nil
}

// Placed returns every accepted order.
func (o *Orders) Placed() []dispatch.Order {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]dispatch.Order(nil), o.placed...)
}

// Clock is a manual dispatch.ScheduleFunc. Scheduled callbacks run only when
// Fire is called.
type Clock struct {
	mu      sync.Mutex
	pending []*entry
}

type entry struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

// Schedule implements dispatch.ScheduleFunc.
func (c *Clock) Schedule(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &entry{d: d, f: f}
	c.pending = append(c.pending, e)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		was := !e.stopped && !e.fired
		e.stopped = true
		return was
	}
}

// Delays returns the delay of every scheduled callback in order.
func (c *Clock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.pending))
	for i, e := range c.pending {
		out[i] = e.d
	}
	return out
}

// Fire runs every callback that is neither stopped nor fired yet.
func (c *Clock) Fire() int {
	c.mu.Lock()
	var run []func()
	for _, e := range c.pending {
		if !e.stopped && !e.fired {
			e.fired = true
			run = append(run, e.f)
		}
	}
	c.mu.Unlock()
	for _, f := range run {
		f()
	}
	return len(run)
}
