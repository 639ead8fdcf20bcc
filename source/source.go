// Package source resolves the current time from an ordered list of time sources.
package source

import (
	"context"
	"errors"
	"time"
)

var (
	// A single source could not produce a time. The waterfall recovers by moving on to the next
	// source.
	ErrSourceUnavailable = errors.New("time source unavailable")

	// Every configured source failed.
	ErrAllSourcesExhausted = errors.New("all time sources exhausted")
)

// A provider of absolute timestamps.
//
// Fetch returns the source's notion of local time and FetchUTC returns UTC. Either may perform
// network I/O and either may fail. Sources hold no state shared with their callers, and any retry
// policy belongs to the source itself.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (time.Time, error)
	FetchUTC(ctx context.Context) (time.Time, error)
}

// Source backed by a function returning UTC time. Useful for stubs and for adapting ad-hoc
// providers.
type Func struct {
	name string
	fn   func(context.Context) (time.Time, error)
}

// Constructs a source that calls fn for every fetch.
func NewFunc(name string, fn func(context.Context) (time.Time, error)) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string {
	return f.name
}

func (f *Func) Fetch(ctx context.Context) (time.Time, error) {
	t, err := f.fn(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return t.Local(), nil
}

func (f *Func) FetchUTC(ctx context.Context) (time.Time, error) {
	t, err := f.fn(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Source that trusts the device's own wall clock. It never fails, so it is normally configured
// last.
type Device struct {
	now func() time.Time
}

// Constructs a device clock source.
func NewDevice() *Device {
	return &Device{now: time.Now}
}

func (d *Device) Name() string {
	return "device"
}

func (d *Device) Fetch(context.Context) (time.Time, error) {
	return d.now().Local(), nil
}

func (d *Device) FetchUTC(context.Context) (time.Time, error) {
	return d.now().UTC(), nil
}
