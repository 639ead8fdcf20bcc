package chronos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newgrp/chronos/clock"
)

const (
	// Key holding the anchor instant as an RFC 3339 string with nanoseconds.
	AnchorKey = "chronos.anchor_utc"
	// Key holding 1 until the first successful initialization, then 0.
	FirstRunKey = "chronos.first_run"
)

// Persistent storage of typed preferences.
//
// A missing key is not an error: the getters return the supplied default.
type KeyValueStore interface {
	GetString(ctx context.Context, key, def string) (string, error)
	SetString(ctx context.Context, key, value string) error
	GetInt(ctx context.Context, key string, def int) (int, error)
	SetInt(ctx context.Context, key string, value int) error
	DeleteKey(ctx context.Context, key string) error
}

// A known UTC instant and the monotonic reading taken when it was recorded.
type Anchor struct {
	UTC       time.Time
	Monotonic time.Duration
}

// Extrapolates the anchor to the given monotonic reading.
func (a Anchor) At(monotonic time.Duration) time.Time {
	return a.UTC.Add(monotonic - a.Monotonic)
}

type anchorState struct {
	anchor Anchor
	// Whether the anchor came from the store. When false, the anchor is synthesized from the
	// device clock on every read.
	persisted bool
}

// Persists the anchor and first-run flag, and extrapolates the current time from them.
//
// Only the instant is persisted. The monotonic counter restarts at zero with the process, so an
// anchor loaded from the store is paired with reading zero: before the first write in this process,
// Now extrapolates the stored instant by the time since process start.
type AnchorStore struct {
	store  KeyValueStore
	mono   clock.Monotonic
	wall   func() time.Time
	logger *zap.Logger

	state *muCell[anchorState]
}

// Constructs an anchor store. Call Load before use.
func NewAnchorStore(store KeyValueStore, mono clock.Monotonic, logger *zap.Logger) *AnchorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnchorStore{
		store:  store,
		mono:   mono,
		wall:   time.Now,
		logger: logger,
		state:  newCell(anchorState{}),
	}
}

// Load reads the persisted anchor instant. A missing or unparseable instant leaves the store
// without an anchor, and a corrupt one is logged.
func (s *AnchorStore) Load(ctx context.Context) error {
	raw, err := s.store.GetString(ctx, AnchorKey, "")
	if err != nil {
		return fmt.Errorf("failed to load anchor: %w", err)
	}
	if raw == "" {
		s.state.Put(anchorState{})
		return nil
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.logger.Warn("Ignoring corrupt anchor", zap.String("value", raw), zap.Error(err))
		s.state.Put(anchorState{})
		return nil
	}
	s.state.Put(anchorState{anchor: Anchor{UTC: t.UTC()}, persisted: true})
	return nil
}

// ReadAnchor returns the current anchor.
//
// Without a persisted anchor, the result is the device clock's current time paired with the
// current monotonic reading, so Now is still well defined.
func (s *AnchorStore) ReadAnchor() Anchor {
	st := s.state.Get()
	if st.persisted {
		return st.anchor
	}
	return Anchor{UTC: s.wall().UTC(), Monotonic: s.mono.Elapsed()}
}

// Reports whether an anchor has been loaded or written.
func (s *AnchorStore) HasAnchor() bool {
	return s.state.Get().persisted
}

// WriteAnchor records instant as the new anchor, paired with the monotonic reading taken now.
//
// The in-memory anchor only changes once the instant has been persisted, so a failed write leaves
// both untouched.
func (s *AnchorStore) WriteAnchor(ctx context.Context, instant time.Time) error {
	a := Anchor{UTC: instant.UTC(), Monotonic: s.mono.Elapsed()}
	if err := s.store.SetString(ctx, AnchorKey, a.UTC.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to persist anchor: %w", err)
	}
	s.state.Put(anchorState{anchor: a, persisted: true})
	return nil
}

// FirstRun reports whether no initialization has ever succeeded against this store.
func (s *AnchorStore) FirstRun(ctx context.Context) (bool, error) {
	v, err := s.store.GetInt(ctx, FirstRunKey, 1)
	if err != nil {
		return false, fmt.Errorf("failed to load first-run flag: %w", err)
	}
	return v != 0, nil
}

func (s *AnchorStore) SetFirstRun(ctx context.Context, firstRun bool) error {
	v := 0
	if firstRun {
		v = 1
	}
	if err := s.store.SetInt(ctx, FirstRunKey, v); err != nil {
		return fmt.Errorf("failed to persist first-run flag: %w", err)
	}
	return nil
}

// Now extrapolates the anchor by the monotonic time elapsed since it was recorded.
func (s *AnchorStore) Now() time.Time {
	return s.ReadAnchor().At(s.mono.Elapsed())
}

// Clear deletes the persisted anchor and first-run flag.
func (s *AnchorStore) Clear(ctx context.Context) error {
	err := ClearPersistentData(ctx, s.store)
	s.state.Put(anchorState{})
	return err
}

// ClearPersistentData deletes the anchor and first-run keys from store, returning it to
// first-run semantics. Intended for tests and debugging.
func ClearPersistentData(ctx context.Context, store KeyValueStore) error {
	return errors.Join(
		store.DeleteKey(ctx, AnchorKey),
		store.DeleteKey(ctx, FirstRunKey),
	)
}
