// Package visibility turns viewport intersection ratios reported by the
// presentation layer into discrete visible/hidden transitions.
package visibility

import (
	"context"
	"errors"
	"sync"
)

// DefaultThreshold is the share of an element that must be on screen for it
// to count as visible.
const DefaultThreshold = 0.75

var ErrClosed = errors.New("visibility: observer closed")

// Media is a playable element handle. Play and Pause must be safe to call
// repeatedly.
type Media interface {
	Play() error
	Pause() error
}

// Event is emitted once per visibility transition of an observed element.
type Event struct {
	ID      string
	Media   Media
	Visible bool
}

type subscription struct {
	media    Media
	reported bool
	visible  bool
}

// Observer tracks a set of media elements and publishes transitions on a
// single channel. The zero value is not usable; call New.
type Observer struct {
	threshold float64

	sendMu sync.Mutex // serialises delivery so events keep report order

	mu       sync.Mutex
	elements map[string]*subscription
	closed   bool

	events chan Event
	done   chan struct{}
}

// New creates an observer. A threshold outside (0, 1] falls back to
// DefaultThreshold.
func New(threshold float64, buffer int) *Observer {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Observer{
		threshold: threshold,
		elements:  make(map[string]*subscription),
		events:    make(chan Event, buffer),
		done:      make(chan struct{}),
	}
}

// Events is closed once Close has returned.
func (o *Observer) Events() <-chan Event {
	return o.events
}

func (o *Observer) Threshold() float64 {
	return o.threshold
}

// Observe starts watching id. Re-observing an id with a different handle
// forgets its previous state.
func (o *Observer) Observe(id string, media Media) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if sub, ok := o.elements[id]; ok && sub.media == media {
		return
	}
	o.elements[id] = &subscription{media: media}
}

func (o *Observer) Unobserve(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.elements, id)
}

// Sync re-subscribes to exactly the given element set: vanished ids are
// dropped, new ids are added and surviving ids keep their last state.
func (o *Observer) Sync(elements map[string]Media) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	for id := range o.elements {
		if _, ok := elements[id]; !ok {
			delete(o.elements, id)
		}
	}
	for id, media := range elements {
		if sub, ok := o.elements[id]; ok && sub.media == media {
			continue
		}
		o.elements[id] = &subscription{media: media}
	}
}

// Observed reports how many elements are currently subscribed.
func (o *Observer) Observed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.elements)
}

// Report records the latest intersection ratio for id. An event is
// delivered only when the element crosses the threshold, or on its first
// report. Unknown ids are ignored.
func (o *Observer) Report(ctx context.Context, id string, ratio float64) error {
	o.sendMu.Lock()
	defer o.sendMu.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	sub, ok := o.elements[id]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	visible := ratio >= o.threshold
	if sub.reported && sub.visible == visible {
		o.mu.Unlock()
		return nil
	}
	prevReported, prevVisible := sub.reported, sub.visible
	sub.reported, sub.visible = true, visible
	ev := Event{ID: id, Media: sub.media, Visible: visible}
	o.mu.Unlock()

	select {
	case o.events <- ev:
		return nil
	case <-o.done:
		return ErrClosed
	case <-ctx.Done():
		o.mu.Lock()
		if cur, ok := o.elements[id]; ok && cur == sub {
			sub.reported, sub.visible = prevReported, prevVisible
		}
		o.mu.Unlock()
		return ctx.Err()
	}
}

// Close releases every subscription and closes the event channel. It is
// idempotent.
func (o *Observer) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.elements = make(map[string]*subscription)
	close(o.done)
	o.mu.Unlock()

	o.sendMu.Lock()
	close(o.events)
	o.sendMu.Unlock()
}
