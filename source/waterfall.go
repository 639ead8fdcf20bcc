package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Resolves time by trying each source in order until one succeeds.
//
// Sources are consulted sequentially. Once a source succeeds, later sources are never called, so
// worst-case latency is the sum of the per-source timeouts.
type Waterfall struct {
	sources []Source
	logger  *zap.Logger
}

// Constructs a resolver over the given sources, in priority order.
func NewWaterfall(logger *zap.Logger, sources ...Source) *Waterfall {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Waterfall{
		sources: append([]Source(nil), sources...),
		logger:  logger,
	}
}

// Returns the names of the configured sources, in the order they are tried.
func (w *Waterfall) Sources() []string {
	names := make([]string, len(w.sources))
	for i, s := range w.sources {
		names[i] = s.Name()
	}
	return names
}

// Resolve returns the first local-notion time any source provides.
func (w *Waterfall) Resolve(ctx context.Context) (time.Time, error) {
	return w.resolve(ctx, func(s Source) (time.Time, error) { return s.Fetch(ctx) })
}

// ResolveUTC returns the first UTC time any source provides.
func (w *Waterfall) ResolveUTC(ctx context.Context) (time.Time, error) {
	return w.resolve(ctx, func(s Source) (time.Time, error) { return s.FetchUTC(ctx) })
}

func (w *Waterfall) resolve(ctx context.Context, fetch func(Source) (time.Time, error)) (time.Time, error) {
	if len(w.sources) == 0 {
		return time.Time{}, fmt.Errorf("%w: no sources configured", ErrAllSourcesExhausted)
	}

	var errs []error
	for _, s := range w.sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		t, err := fetch(s)
		if err == nil {
			w.logger.Debug("Resolved time", zap.String("source", s.Name()), zap.Time("time", t))
			return t, nil
		}

		w.logger.Warn("Time source failed", zap.String("source", s.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, s.Name(), err))
	}
	return time.Time{}, fmt.Errorf("%w: %w", ErrAllSourcesExhausted, errors.Join(errs...))
}
