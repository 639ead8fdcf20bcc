package chronos

import (
	"time"

	"go.uber.org/zap"

	"github.com/newgrp/chronos/clock"
	"github.com/newgrp/chronos/notify"
)

// Monotonic reading recorded when a suspension started.
type suspendMark struct {
	at  time.Duration
	set bool
}

// One Active/Suspended pair. Only the latest suspend is remembered: a second suspend without a
// resume in between replaces the mark.
type suspension struct {
	kind string
	mark *muCell[suspendMark]
	feed notify.Feed[time.Duration]
}

func newSuspension(kind string) *suspension {
	return &suspension{kind: kind, mark: newCell(suspendMark{})}
}

// Measures how long the application spent unfocused and paused.
//
// Handlers only read the monotonic counter and notify subscribers; they never block on I/O.
// Durations are only delivered once the owner is initialized. Before that, a resume produces no
// notification at all, which is different from a zero duration.
type Tracker struct {
	mono        clock.Monotonic
	initialized func() bool
	logger      *zap.Logger

	focus *suspension
	pause *suspension
}

// Constructs a tracker. initialized gates delivery of measured durations.
func NewTracker(mono clock.Monotonic, initialized func() bool, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		mono:        mono,
		initialized: initialized,
		logger:      logger,
		focus:       newSuspension("focus"),
		pause:       newSuspension("pause"),
	}
}

// FocusChanged handles a focus transition.
func (t *Tracker) FocusChanged(hasFocus bool) {
	if hasFocus {
		t.resume(t.focus)
	} else {
		t.suspend(t.focus)
	}
}

// PauseChanged handles a pause transition.
func (t *Tracker) PauseChanged(isPaused bool) {
	if isPaused {
		t.suspend(t.pause)
	} else {
		t.resume(t.pause)
	}
}

// Subscribes to durations spent without focus.
func (t *Tracker) OnElapsedWhileLostFocus(fn func(time.Duration)) (unsubscribe func()) {
	return subscribe(&t.focus.feed, fn)
}

// Subscribes to durations spent paused.
func (t *Tracker) OnElapsedWhilePaused(fn func(time.Duration)) (unsubscribe func()) {
	return subscribe(&t.pause.feed, fn)
}

func subscribe(feed *notify.Feed[time.Duration], fn func(time.Duration)) func() {
	id := feed.Subscribe(fn)
	return func() { feed.Unsubscribe(id) }
}

func (t *Tracker) suspend(s *suspension) {
	s.mark.Put(suspendMark{at: t.mono.Elapsed(), set: true})
}

func (t *Tracker) resume(s *suspension) {
	now := t.mono.Elapsed()
	mark := s.mark.Swap(suspendMark{})
	if !mark.set {
		// Resume without a matching suspend, e.g. the focus event hosts send at startup.
		return
	}

	elapsed := now - mark.at
	if !t.initialized() {
		t.logger.Debug("Suppressing suspension interval before initialization",
			zap.String("kind", s.kind), zap.Duration("elapsed", elapsed))
		return
	}
	s.feed.Publish(elapsed)
}
