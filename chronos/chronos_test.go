package chronos_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/newgrp/chronos/chronos"
	"github.com/newgrp/chronos/clock"
	"github.com/newgrp/chronos/lifecycle"
	"github.com/newgrp/chronos/prefs"
	"github.com/newgrp/chronos/source"
)

var (
	t0         = time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	errOffline = errors.New("offline")
)

// Source that returns scripted results, repeating the last one.
type scripted struct {
	mu      sync.Mutex
	results []result
	calls   int
}

type result struct {
	t   time.Time
	err error
}

func (s *scripted) next(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i].t, s.results[i].err
}

func returns(t time.Time) result { return result{t: t} }
func fails() result              { return result{err: errOffline} }

// Store that counts writes.
type countingStore struct {
	*prefs.Store
	writes int
}

func (c *countingStore) SetString(ctx context.Context, key, value string) error {
	c.writes++
	return c.Store.SetString(ctx, key, value)
}

func (c *countingStore) SetInt(ctx context.Context, key string, value int) error {
	c.writes++
	return c.Store.SetInt(ctx, key, value)
}

type fixture struct {
	authority *chronos.Authority
	source    *scripted
	store     *countingStore
	mono      *clock.Manual
	bus       *lifecycle.Bus
}

type fixtureOption func(*chronos.Options)

func newFixture(t *testing.T, store *countingStore, results []result, opts ...fixtureOption) *fixture {
	t.Helper()

	if store == nil {
		store = &countingStore{Store: prefs.New(prefs.NewMemory())}
	}
	src := &scripted{results: results}
	mono := clock.NewManual(0)
	bus, err := lifecycle.NewBus(nil)
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	o := chronos.Options{
		Resolver: source.NewWaterfall(zaptest.NewLogger(t), source.NewFunc("scripted", src.next)),
		Store:    store,
		Signals:  bus,
		Clock:    mono,
		Logger:   zaptest.NewLogger(t),
	}
	for _, opt := range opts {
		opt(&o)
	}

	a, err := chronos.New(context.Background(), o)
	require.NoError(t, err)
	t.Cleanup(a.Dispose)

	return &fixture{authority: a, source: src, store: store, mono: mono, bus: bus}
}

// Store that already holds an anchor from a previous run.
func storeWithAnchor(t *testing.T, anchor time.Time) *countingStore {
	t.Helper()
	ctx := context.Background()

	s := prefs.New(prefs.NewMemory())
	require.NoError(t, s.SetString(ctx, chronos.AnchorKey, anchor.Format(time.RFC3339Nano)))
	require.NoError(t, s.SetInt(ctx, chronos.FirstRunKey, 0))
	return &countingStore{Store: s}
}

func storedAnchor(t *testing.T, s *countingStore) time.Time {
	t.Helper()

	raw, err := s.GetString(context.Background(), chronos.AnchorKey, "")
	require.NoError(t, err)
	got, err := time.Parse(time.RFC3339Nano, raw)
	require.NoError(t, err)
	return got
}

func TestNewRequiresResolverAndStore(t *testing.T) {
	_, err := chronos.New(context.Background(), chronos.Options{Store: prefs.New(prefs.NewMemory())})
	assert.Error(t, err)

	_, err = chronos.New(context.Background(), chronos.Options{Resolver: source.NewWaterfall(nil)})
	assert.Error(t, err)
}

func TestInitializeFirstRun(t *testing.T) {
	f := newFixture(t, nil, []result{returns(t0)})

	require.NoError(t, f.authority.Initialize(context.Background()))

	assert.True(t, f.authority.IsInitialized())
	assert.Equal(t, chronos.StateInitialized, f.authority.State())
	assert.Equal(t, time.Duration(0), f.authority.ElapsedWhileClosed())
	assert.True(t, storedAnchor(t, f.store).Equal(t0))
	assert.True(t, f.authority.LastRecordedUTC().Equal(t0))

	first, err := f.store.GetInt(context.Background(), chronos.FirstRunKey, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, first)
}

func TestInitializeElapsedWhileClosed(t *testing.T) {
	t1 := t0.Add(5000 * time.Second)
	f := newFixture(t, storeWithAnchor(t, t0), []result{returns(t1)})

	require.NoError(t, f.authority.Initialize(context.Background()))

	assert.True(t, f.authority.IsInitialized())
	assert.Equal(t, 5000*time.Second, f.authority.ElapsedWhileClosed())
	assert.True(t, storedAnchor(t, f.store).Equal(t1))
}

func TestInitializeRegressionGuard(t *testing.T) {
	for name, resolved := range map[string]time.Time{
		"earlier": t0.Add(-10 * time.Second),
		"equal":   t0,
	} {
		t.Run(name, func(t *testing.T) {
			store := storeWithAnchor(t, t0)
			f := newFixture(t, store, []result{returns(resolved)})
			writes := store.writes

			err := f.authority.Initialize(context.Background())

			assert.ErrorIs(t, err, chronos.ErrClockRegression)
			assert.False(t, f.authority.IsInitialized())
			assert.Equal(t, chronos.StateUninitialized, f.authority.State())
			assert.Equal(t, writes, store.writes, "anchor must not be written")
			assert.True(t, storedAnchor(t, store).Equal(t0))
		})
	}
}

func TestInitializeRegressionMarkInitialized(t *testing.T) {
	store := storeWithAnchor(t, t0)
	f := newFixture(t, store, []result{returns(t0.Add(-time.Minute))}, func(o *chronos.Options) {
		o.RegressionPolicy = chronos.RegressionMarkInitialized
	})

	require.NoError(t, f.authority.Initialize(context.Background()))

	assert.True(t, f.authority.IsInitialized())
	assert.Equal(t, time.Duration(0), f.authority.ElapsedWhileClosed())
	assert.True(t, storedAnchor(t, store).Equal(t0))
}

func TestInitializeAllSourcesFail(t *testing.T) {
	f := newFixture(t, nil, []result{fails()})

	err := f.authority.Initialize(context.Background())

	assert.ErrorIs(t, err, source.ErrAllSourcesExhausted)
	assert.ErrorIs(t, err, errOffline)
	assert.False(t, f.authority.IsInitialized())
	assert.Equal(t, 0, f.store.writes)
}

func TestInitializeRetryAfterFailure(t *testing.T) {
	f := newFixture(t, nil, []result{fails(), returns(t0)})

	assert.Error(t, f.authority.Initialize(context.Background()))
	require.NoError(t, f.authority.Initialize(context.Background()))
	assert.True(t, f.authority.IsInitialized())
}

func TestInitializeWhenInitializedIsNoop(t *testing.T) {
	f := newFixture(t, nil, []result{returns(t0), returns(t0.Add(time.Hour))})

	require.NoError(t, f.authority.Initialize(context.Background()))
	require.NoError(t, f.authority.Initialize(context.Background()))

	assert.Equal(t, 1, f.source.calls)
	assert.True(t, storedAnchor(t, f.store).Equal(t0))
}

func TestNowExtrapolatesFromAnchor(t *testing.T) {
	f := newFixture(t, nil, []result{returns(t0)})
	f.mono.Set(100 * time.Second)
	require.NoError(t, f.authority.Initialize(context.Background()))

	f.mono.Advance(30 * time.Second)

	assert.True(t, f.authority.Now().Equal(t0.Add(30*time.Second)), "got %v", f.authority.Now())
}

func TestNowBeforeInitializeAfterRestart(t *testing.T) {
	f := newFixture(t, storeWithAnchor(t, t0), []result{fails()})
	f.mono.Set(12 * time.Second)

	// The persisted anchor is paired with process start.
	assert.True(t, f.authority.Now().Equal(t0.Add(12*time.Second)))
	assert.False(t, f.authority.IsInitialized())
}

func TestRestartReportsTimeClosed(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: prefs.New(prefs.NewMemory())}

	first := newFixture(t, store, []result{returns(t0)})
	require.NoError(t, first.authority.Initialize(ctx))
	first.authority.Dispose()

	second := newFixture(t, store, []result{returns(t0.Add(3 * time.Hour))})
	require.NoError(t, second.authority.Initialize(ctx))
	assert.Equal(t, 3*time.Hour, second.authority.ElapsedWhileClosed())
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	t1 := t0.Add(10 * time.Minute)
	f := newFixture(t, nil, []result{returns(t0), returns(t1)})
	require.NoError(t, f.authority.Initialize(ctx))

	require.NoError(t, f.authority.Refresh(ctx))

	assert.True(t, storedAnchor(t, f.store).Equal(t1))
	assert.Equal(t, 10*time.Minute, f.authority.ElapsedWhileClosed())
	assert.True(t, f.authority.IsInitialized())
}

func TestRefreshSkipsRegression(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, []result{returns(t0), returns(t0.Add(-time.Second))})
	require.NoError(t, f.authority.Initialize(ctx))
	writes := f.store.writes

	err := f.authority.Refresh(ctx)

	assert.ErrorIs(t, err, chronos.ErrClockRegression)
	assert.Equal(t, writes, f.store.writes)
	assert.True(t, storedAnchor(t, f.store).Equal(t0))
}

func TestRefreshFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, []result{returns(t0), fails()})
	require.NoError(t, f.authority.Initialize(ctx))

	assert.ErrorIs(t, f.authority.Refresh(ctx), source.ErrAllSourcesExhausted)
	assert.True(t, f.authority.IsInitialized())
	assert.True(t, storedAnchor(t, f.store).Equal(t0))
}

func TestRefreshDoesNotTouchFirstRunOrState(t *testing.T) {
	ctx := context.Background()
	// Later than any plausible device clock, which backs the synthesized anchor.
	f := newFixture(t, nil, []result{returns(time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC))})

	require.NoError(t, f.authority.Refresh(ctx))

	assert.False(t, f.authority.IsInitialized())
	first, err := f.store.GetInt(ctx, chronos.FirstRunKey, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, first)
	assert.Equal(t, time.Duration(0), f.authority.ElapsedWhileClosed(), "a synthesized anchor yields no elapsed time")
}

func TestFocusRoundTrip(t *testing.T) {
	f := newFixture(t, nil, []result{returns(t0)})
	require.NoError(t, f.authority.Initialize(context.Background()))

	var got []time.Duration
	f.authority.OnElapsedWhileLostFocus(func(d time.Duration) { got = append(got, d) })

	f.mono.Set(10 * time.Second)
	f.bus.SetFocus(false)
	f.mono.Set(42 * time.Second)
	f.bus.SetFocus(true)

	assert.Equal(t, []time.Duration{32 * time.Second}, got)
}

func TestFocusNotDeliveredBeforeInitialize(t *testing.T) {
	f := newFixture(t, nil, []result{fails()})

	calls := 0
	f.authority.OnElapsedWhileLostFocus(func(time.Duration) { calls++ })

	f.mono.Set(10 * time.Second)
	f.bus.SetFocus(false)
	f.mono.Set(42 * time.Second)
	f.bus.SetFocus(true)

	assert.Equal(t, 0, calls)
}

func TestPauseRoundTrip(t *testing.T) {
	f := newFixture(t, nil, []result{returns(t0)})
	require.NoError(t, f.authority.Initialize(context.Background()))

	var paused, unfocused []time.Duration
	f.authority.OnElapsedWhilePaused(func(d time.Duration) { paused = append(paused, d) })
	f.authority.OnElapsedWhileLostFocus(func(d time.Duration) { unfocused = append(unfocused, d) })

	// Overlapping suspensions are measured independently.
	f.mono.Set(5 * time.Second)
	f.bus.SetFocus(false)
	f.mono.Set(6 * time.Second)
	f.bus.SetPaused(true)
	f.mono.Set(66 * time.Second)
	f.bus.SetPaused(false)
	f.mono.Set(70 * time.Second)
	f.bus.SetFocus(true)

	assert.Equal(t, []time.Duration{60 * time.Second}, paused)
	assert.Equal(t, []time.Duration{65 * time.Second}, unfocused)
}

func TestRepeatedSuspendOverwritesMark(t *testing.T) {
	f := newFixture(t, nil, []result{returns(t0)})
	require.NoError(t, f.authority.Initialize(context.Background()))

	var got []time.Duration
	f.authority.OnElapsedWhilePaused(func(d time.Duration) { got = append(got, d) })

	f.mono.Set(10 * time.Second)
	f.bus.SetPaused(true)
	f.mono.Set(20 * time.Second)
	f.bus.SetPaused(true)
	f.mono.Set(25 * time.Second)
	f.bus.SetPaused(false)

	assert.Equal(t, []time.Duration{5 * time.Second}, got)
}

func TestResumeWithoutSuspendIsIgnored(t *testing.T) {
	f := newFixture(t, nil, []result{returns(t0)})
	require.NoError(t, f.authority.Initialize(context.Background()))

	calls := 0
	f.authority.OnElapsedWhileLostFocus(func(time.Duration) { calls++ })

	f.mono.Set(10 * time.Second)
	f.bus.SetFocus(false)
	f.bus.SetFocus(true)
	f.bus.SetFocus(true)

	assert.Equal(t, 1, calls, "a second resume must not count the interval again")
}

func TestUnsubscribeFromElapsed(t *testing.T) {
	f := newFixture(t, nil, []result{returns(t0)})
	require.NoError(t, f.authority.Initialize(context.Background()))

	calls := 0
	unsubscribe := f.authority.OnElapsedWhilePaused(func(time.Duration) { calls++ })
	unsubscribe()

	f.bus.SetPaused(true)
	f.bus.SetPaused(false)
	assert.Equal(t, 0, calls)
}

func TestDisposeIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, []result{returns(t0)})
	require.NoError(t, f.authority.Initialize(context.Background()))

	calls := 0
	f.authority.OnElapsedWhileLostFocus(func(time.Duration) { calls++ })

	// A second authority on the same bus must keep its subscription.
	other, err := chronos.New(context.Background(), chronos.Options{
		Resolver: source.NewWaterfall(nil, source.NewFunc("fixed", func(context.Context) (time.Time, error) { return t0, nil })),
		Store:    prefs.New(prefs.NewMemory()),
		Signals:  f.bus,
		Clock:    f.mono,
	})
	require.NoError(t, err)
	defer other.Dispose()
	require.NoError(t, other.Initialize(context.Background()))
	otherCalls := 0
	other.OnElapsedWhileLostFocus(func(time.Duration) { otherCalls++ })

	assert.NotPanics(t, func() {
		f.authority.Dispose()
		f.authority.Dispose()
	})

	f.bus.SetFocus(false)
	f.bus.SetFocus(true)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, otherCalls)
}

func TestClearPersistentData(t *testing.T) {
	ctx := context.Background()
	store := storeWithAnchor(t, t0)
	f := newFixture(t, store, []result{returns(t0.Add(-time.Hour))})

	require.NoError(t, f.authority.ClearPersistentData(ctx))
	require.NoError(t, f.authority.Initialize(ctx), "cleared store must behave as a first run")

	assert.Equal(t, time.Duration(0), f.authority.ElapsedWhileClosed())
	assert.True(t, storedAnchor(t, store).Equal(t0.Add(-time.Hour)))
}

func TestResolveSurfaces(t *testing.T) {
	f := newFixture(t, nil, []result{returns(t0)})

	local, err := f.authority.ResolveLocal(context.Background())
	require.NoError(t, err)
	assert.True(t, local.Equal(t0))
	assert.Equal(t, time.Local, local.Location())

	utc, err := f.authority.ResolveUTC(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.UTC, utc.Location())
	assert.Equal(t, 0, f.store.writes, "resolving must not touch the anchor")
}

func TestStatus(t *testing.T) {
	f := newFixture(t, storeWithAnchor(t, t0), []result{returns(t0.Add(time.Minute))})
	require.NoError(t, f.authority.Initialize(context.Background()))

	st := f.authority.Status()
	assert.Equal(t, "initialized", st.State)
	assert.True(t, st.HasAnchor)
	assert.True(t, st.LastRecordedUTC.Equal(t0.Add(time.Minute)))
	assert.Equal(t, time.Minute, st.ElapsedWhileClosed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", chronos.StateUninitialized.String())
	assert.Equal(t, "initializing", chronos.StateInitializing.String())
	assert.Equal(t, "initialized", chronos.StateInitialized.String())
	assert.Equal(t, "State(9)", chronos.State(9).String())
}
