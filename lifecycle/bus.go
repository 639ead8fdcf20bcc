// Package lifecycle carries the host application's focus and pause transitions.
//
// The host publishes transitions on an EventBus, either through Bus.SetFocus and Bus.SetPaused or
// directly on the topics below. Subscribers receive them synchronously, in subscription order.
package lifecycle

import (
	"fmt"
	"sync"

	evbus "github.com/asaskevich/EventBus"

	"github.com/newgrp/chronos/notify"
)

const (
	// Topic carrying a single bool argument: whether the application has focus.
	TopicFocus = "app:focus"
	// Topic carrying a single bool argument: whether the application is paused.
	TopicPause = "app:pause"
)

// Adapter from EventBus topics to focus and pause subscriptions.
//
// A Bus attaches one dispatcher per topic to the underlying EventBus. EventBus identifies handlers
// by code pointer, so attach at most one Bus to a given EventBus.
type Bus struct {
	bus evbus.Bus

	focus notify.Feed[bool]
	pause notify.Feed[bool]

	closeOnce sync.Once
}

// Attaches to bus. A nil bus creates a private one.
func NewBus(bus evbus.Bus) (*Bus, error) {
	if bus == nil {
		bus = evbus.New()
	}

	b := &Bus{bus: bus}
	if err := bus.Subscribe(TopicFocus, b.dispatchFocus); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", TopicFocus, err)
	}
	if err := bus.Subscribe(TopicPause, b.dispatchPause); err != nil {
		bus.Unsubscribe(TopicFocus, b.dispatchFocus)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", TopicPause, err)
	}
	return b, nil
}

func (b *Bus) dispatchFocus(hasFocus bool) { b.focus.Publish(hasFocus) }
func (b *Bus) dispatchPause(isPaused bool) { b.pause.Publish(isPaused) }

// Publishes a focus transition.
func (b *Bus) SetFocus(hasFocus bool) {
	b.bus.Publish(TopicFocus, hasFocus)
}

// Publishes a pause transition.
func (b *Bus) SetPaused(isPaused bool) {
	b.bus.Publish(TopicPause, isPaused)
}

// SubscribeFocus registers fn for focus transitions. The returned function removes the
// subscription and may be called any number of times.
func (b *Bus) SubscribeFocus(fn func(hasFocus bool)) (unsubscribe func()) {
	id := b.focus.Subscribe(fn)
	return func() { b.focus.Unsubscribe(id) }
}

// SubscribePause registers fn for pause transitions. The returned function removes the
// subscription and may be called any number of times.
func (b *Bus) SubscribePause(fn func(isPaused bool)) (unsubscribe func()) {
	id := b.pause.Subscribe(fn)
	return func() { b.pause.Unsubscribe(id) }
}

// Detaches from the underlying EventBus. Subsequent transitions are not delivered.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.bus.Unsubscribe(TopicFocus, b.dispatchFocus)
		b.bus.Unsubscribe(TopicPause, b.dispatchPause)
	})
}
