// Package chronos tracks trusted UTC time for a long-running client that cannot trust its own
// clock.
//
// An Authority resolves the time from an ordered list of sources, persists it as an anchor, and
// extrapolates the current time from the anchor with a monotonic counter. Across restarts it
// reports how much time passed while the process was closed, and while running it reports how
// long the application spent paused or without focus.
package chronos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/newgrp/chronos/clock"
)

var (
	// A resolved time was not strictly after the stored anchor.
	ErrClockRegression = errors.New("resolved time is not after the stored anchor")

	// Initialize was called while another Initialize was running.
	ErrInitializing = errors.New("initialization already in progress")
)

// Resolves the current time from an ordered list of sources.
type Resolver interface {
	Resolve(ctx context.Context) (time.Time, error)
	ResolveUTC(ctx context.Context) (time.Time, error)
}

// Host notifications about focus and pause transitions.
type Signals interface {
	SubscribeFocus(fn func(hasFocus bool)) (unsubscribe func())
	SubscribePause(fn func(isPaused bool)) (unsubscribe func())
}

// What Initialize does when the resolved time is not after the stored anchor.
type RegressionPolicy int

const (
	// Stay uninitialized. The caller may retry Initialize.
	RegressionStayUninitialized RegressionPolicy = iota
	// Become initialized without moving the anchor or updating ElapsedWhileClosed.
	RegressionMarkInitialized
)

// Lifecycle states of an Authority. There is no way back to StateUninitialized.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateInitialized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Authority options.
type Options struct {
	// Time sources, in priority order. Required.
	Resolver Resolver
	// Persistent storage for the anchor and first-run flag. Required.
	Store KeyValueStore
	// Focus and pause transitions. Optional.
	Signals Signals
	// Monotonic counter. Defaults to the process counter.
	Clock clock.Monotonic
	// Defaults to RegressionStayUninitialized.
	RegressionPolicy RegressionPolicy
	// Defaults to a no-op logger.
	Logger *zap.Logger
}

// Reconciles trusted time across suspensions and restarts.
//
// Initialize and Refresh are expected to be called from a single owner and must not overlap.
// Now, IsInitialized and the accessors are safe to call from any goroutine, and signal handlers
// may run on a different goroutine than the owner.
type Authority struct {
	resolver Resolver
	anchors  *AnchorStore
	tracker  *Tracker
	policy   RegressionPolicy
	logger   *zap.Logger

	state              atomic.Int32
	elapsedWhileClosed atomic.Int64

	// Resolution outcomes, for metrics.
	resolveOK   atomic.Uint64
	resolveFail atomic.Uint64
	regressions atomic.Uint64

	unsubscribe []func()
	disposeOnce sync.Once
}

// Constructs an authority and loads its persisted anchor.
func New(ctx context.Context, opts Options) (*Authority, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("a resolver is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("a key-value store is required")
	}
	mono := opts.Clock
	if mono == nil {
		mono = clock.NewProcess()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Authority{
		resolver: opts.Resolver,
		anchors:  NewAnchorStore(opts.Store, mono, logger),
		policy:   opts.RegressionPolicy,
		logger:   logger,
	}
	a.tracker = NewTracker(mono, a.IsInitialized, logger)

	if err := a.anchors.Load(ctx); err != nil {
		return nil, err
	}

	if opts.Signals != nil {
		a.unsubscribe = append(a.unsubscribe,
			opts.Signals.SubscribeFocus(a.tracker.FocusChanged),
			opts.Signals.SubscribePause(a.tracker.PauseChanged),
		)
	}
	return a, nil
}

// Initialize resolves the current time and reconciles it with the stored anchor.
//
// On the first run against a store, the resolved time becomes the anchor and no time is reported
// as elapsed while closed. Otherwise the resolved time must be strictly after the anchor; the
// difference is reported by ElapsedWhileClosed and the anchor moves forward. A nil error means the
// authority is initialized. On error, no persisted state has changed unless a store write failed,
// and Initialize may be retried.
func (a *Authority) Initialize(ctx context.Context) error {
	if !a.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		if a.State() == StateInitialized {
			return nil
		}
		return ErrInitializing
	}

	if err := a.initialize(ctx); err != nil {
		a.state.Store(int32(StateUninitialized))
		return err
	}
	a.state.Store(int32(StateInitialized))
	return nil
}

func (a *Authority) initialize(ctx context.Context) error {
	resolved, err := a.resolveUTC(ctx)
	if err != nil {
		a.logger.Error("Failed to resolve time during initialization", zap.Error(err))
		return err
	}

	firstRun, err := a.anchors.FirstRun(ctx)
	if err != nil {
		return err
	}
	if firstRun {
		if err := a.anchors.WriteAnchor(ctx, resolved); err != nil {
			return err
		}
		if err := a.anchors.SetFirstRun(ctx, false); err != nil {
			return err
		}
		a.elapsedWhileClosed.Store(0)
		a.logger.Info("Initialized on first run", zap.Time("anchor", resolved))
		return nil
	}

	anchor := a.anchors.ReadAnchor()
	if !resolved.After(anchor.UTC) {
		a.regressions.Add(1)
		a.logger.Warn("Resolved time is not after the stored anchor",
			zap.Time("resolved", resolved), zap.Time("anchor", anchor.UTC))
		if a.policy == RegressionMarkInitialized {
			return nil
		}
		return fmt.Errorf("%w: resolved %s, anchor %s", ErrClockRegression,
			resolved.Format(time.RFC3339Nano), anchor.UTC.Format(time.RFC3339Nano))
	}

	elapsed := resolved.Sub(anchor.UTC)
	if err := a.anchors.WriteAnchor(ctx, resolved); err != nil {
		return err
	}
	a.elapsedWhileClosed.Store(int64(elapsed))
	a.logger.Info("Initialized", zap.Time("anchor", resolved), zap.Duration("elapsed_while_closed", elapsed))
	return nil
}

// Refresh resolves the current time and, if it is strictly after the anchor, moves the anchor
// forward and updates ElapsedWhileClosed. It never changes the first-run flag or the lifecycle
// state. The returned error explains why the anchor did not move; callers that treat Refresh as
// fire-and-forget may ignore it.
func (a *Authority) Refresh(ctx context.Context) error {
	resolved, err := a.resolveUTC(ctx)
	if err != nil {
		a.logger.Warn("Failed to resolve time during refresh", zap.Error(err))
		return err
	}

	hadAnchor := a.anchors.HasAnchor()
	anchor := a.anchors.ReadAnchor()
	if !resolved.After(anchor.UTC) {
		a.regressions.Add(1)
		a.logger.Debug("Skipping refresh, resolved time is not after the anchor",
			zap.Time("resolved", resolved), zap.Time("anchor", anchor.UTC))
		return fmt.Errorf("%w: resolved %s, anchor %s", ErrClockRegression,
			resolved.Format(time.RFC3339Nano), anchor.UTC.Format(time.RFC3339Nano))
	}

	if err := a.anchors.WriteAnchor(ctx, resolved); err != nil {
		return err
	}
	// A synthesized anchor is just the device clock, so the difference means nothing.
	if hadAnchor {
		a.elapsedWhileClosed.Store(int64(resolved.Sub(anchor.UTC)))
	}
	return nil
}

func (a *Authority) resolveUTC(ctx context.Context) (time.Time, error) {
	t, err := a.resolver.ResolveUTC(ctx)
	if err != nil {
		a.resolveFail.Add(1)
		return time.Time{}, err
	}
	a.resolveOK.Add(1)
	return t.UTC(), nil
}

// ResolveUTC queries the sources for the current UTC time without touching the anchor.
func (a *Authority) ResolveUTC(ctx context.Context) (time.Time, error) {
	return a.resolver.ResolveUTC(ctx)
}

// ResolveLocal queries the sources for their local-notion time without touching the anchor.
func (a *Authority) ResolveLocal(ctx context.Context) (time.Time, error) {
	return a.resolver.Resolve(ctx)
}

// Now returns the current UTC time extrapolated from the anchor. It does not decrease between
// anchor writes.
func (a *Authority) Now() time.Time {
	return a.anchors.Now()
}

func (a *Authority) State() State {
	return State(a.state.Load())
}

func (a *Authority) IsInitialized() bool {
	return a.State() == StateInitialized
}

// ElapsedWhileClosed returns the time between the previous anchor and the most recent successful
// Initialize or Refresh.
func (a *Authority) ElapsedWhileClosed() time.Duration {
	return time.Duration(a.elapsedWhileClosed.Load())
}

// LastRecordedUTC returns the anchor instant.
func (a *Authority) LastRecordedUTC() time.Time {
	return a.anchors.ReadAnchor().UTC
}

// Subscribes to the time spent without focus, delivered when focus returns.
func (a *Authority) OnElapsedWhileLostFocus(fn func(time.Duration)) (unsubscribe func()) {
	return a.tracker.OnElapsedWhileLostFocus(fn)
}

// Subscribes to the time spent paused, delivered when the pause ends.
func (a *Authority) OnElapsedWhilePaused(fn func(time.Duration)) (unsubscribe func()) {
	return a.tracker.OnElapsedWhilePaused(fn)
}

// ClearPersistentData deletes the persisted anchor and first-run flag. The next Initialize
// against the store behaves as a first run. Intended for tests and debugging.
func (a *Authority) ClearPersistentData(ctx context.Context) error {
	return a.anchors.Clear(ctx)
}

// Dispose unsubscribes from host signals. Safe to call more than once.
func (a *Authority) Dispose() {
	a.disposeOnce.Do(func() {
		for _, unsubscribe := range a.unsubscribe {
			unsubscribe()
		}
		a.unsubscribe = nil
	})
}

// Point-in-time view of an authority.
type Status struct {
	State              string        `json:"state"`
	Now                time.Time     `json:"now"`
	LastRecordedUTC    time.Time     `json:"lastRecordedUtc"`
	HasAnchor          bool          `json:"hasAnchor"`
	ElapsedWhileClosed time.Duration `json:"elapsedWhileClosedNs"`
}

// Returns a snapshot of the authority's state.
func (a *Authority) Status() Status {
	anchor := a.anchors.ReadAnchor()
	return Status{
		State:              a.State().String(),
		Now:                a.Now(),
		LastRecordedUTC:    anchor.UTC,
		HasAnchor:          a.anchors.HasAnchor(),
		ElapsedWhileClosed: a.ElapsedWhileClosed(),
	}
}
