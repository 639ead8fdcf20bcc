package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newgrp/chronos/chronos"
	"github.com/newgrp/chronos/lifecycle"
	"github.com/newgrp/chronos/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve trusted time over HTTP",
	Long: `Initializes the time authority, retrying until a source answers, and serves it over HTTP.
The anchor is refreshed periodically while running.

SIGTSTP and SIGCONT are reported as pause and resume. SIGUSR1 and SIGUSR2 are reported as focus
lost and gained.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := lifecycle.NewBus(nil)
	if err != nil {
		return err
	}
	defer bus.Close()

	a, store, err := newAuthority(ctx, cfg, bus, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	defer a.Dispose()

	a.OnElapsedWhilePaused(func(d time.Duration) {
		logger.Info("Resumed after pause", zap.Duration("elapsed", d))
	})
	a.OnElapsedWhileLostFocus(func(d time.Duration) {
		logger.Info("Regained focus", zap.Duration("elapsed", d))
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		chronos.NewCollector(a),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	server.NewServer(a, registry, logger).RegisterHandlers(mux)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Running HTTP server", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		initializeUntilDone(ctx, a, cfg.Initialize.Retry, logger)
		return nil
	})
	if cfg.Refresh.Interval > 0 {
		g.Go(func() error {
			refreshEvery(ctx, a, cfg.Refresh.Interval, logger)
			return nil
		})
	}
	g.Go(func() error {
		forwardSignals(ctx, bus, logger)
		return nil
	})
	return g.Wait()
}

// Calls Initialize until it succeeds or ctx is done.
func initializeUntilDone(ctx context.Context, a *chronos.Authority, retry time.Duration, logger *zap.Logger) {
	op := func() error {
		if err := a.Initialize(ctx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("Initialization failed, retrying", zap.Error(err), zap.Duration("retry_in", next))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.NewConstantBackOff(retry), ctx), notify); err != nil {
		return
	}
	logger.Info("Time authority initialized",
		zap.Time("now", a.Now()),
		zap.Duration("elapsed_while_closed", a.ElapsedWhileClosed()))
}

// Refreshes the anchor on every tick once the authority is initialized.
func refreshEvery(ctx context.Context, a *chronos.Authority, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !a.IsInitialized() {
			continue
		}
		if err := a.Refresh(ctx); err == nil {
			logger.Debug("Refreshed anchor", zap.Time("anchor", a.LastRecordedUTC()))
		}
	}
}

// Relays host signals to the lifecycle bus until ctx is done.
func forwardSignals(ctx context.Context, bus *lifecycle.Bus, logger *zap.Logger) {
	if len(hostSignals) == 0 {
		<-ctx.Done()
		return
	}

	ch := make(chan os.Signal, len(hostSignals))
	signal.Notify(ch, hostSignals...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			logger.Debug("Host signal", zap.Stringer("signal", sig))
			dispatchSignal(sig, bus)
		}
	}
}
