// Package mock provides a test double for wakeword.Detector.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/atlas/pkg/provider/wakeword"
)

var _ wakeword.Detector = (*Detector)(nil)

// Detector is a mock implementation of wakeword.Detector. Call Trigger to
// simulate a detection.
type Detector struct {
	mu sync.Mutex

	events    chan wakeword.Event
	once      sync.Once
	destroyed bool
	listening bool

	// InitResult is returned by Initialize.
	InitResult bool

	// StartErr is returned by StartListening.
	StartErr error

	CallCountStart   int
	CallCountStop    int
	CallCountDestroy int
}

// New returns a Detector whose Initialize succeeds.
func New() *Detector {
	return &Detector{InitResult: true, events: make(chan wakeword.Event, 32)}
}

// Initialize implements wakeword.Detector.
func (d *Detector) Initialize(context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.InitResult && !d.destroyed
}

// StartListening implements wakeword.Detector.
func (d *Detector) StartListening() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartErr != nil {
		return d.StartErr
	}
	d.listening = true
	return nil
}

// StopListening implements wakeword.Detector.
func (d *Detector) StopListening() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStop++
	d.listening = false
	return nil
}

// Listening reports whether StartListening was called more recently than
// StopListening.
func (d *Detector) Listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listening
}

// Trigger emits an EventDetected if the detector is listening. It reports
// whether the event was emitted.
func (d *Detector) Trigger() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed || !d.listening {
		return false
	}
	d.events <- wakeword.Event{Type: wakeword.EventDetected}
	return true
}

// Events implements wakeword.Detector.
func (d *Detector) Events() <-chan wakeword.Event { return d.events }

// Destroy implements wakeword.Detector.
func (d *Detector) Destroy() error {
	d.mu.Lock()
	d.CallCountDestroy++
	d.destroyed = true
	d.listening = false
	d.mu.Unlock()
	d.once.Do(func() { close(d.events) })
	return nil
}
