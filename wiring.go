package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/newgrp/chronos/chronos"
	"github.com/newgrp/chronos/config"
	"github.com/newgrp/chronos/prefs"
	"github.com/newgrp/chronos/source"
)

// Opens the preferences backend named by cfg.Driver.
func openStore(cfg config.StoreConfig, logger *zap.Logger) (*prefs.Store, error) {
	var (
		backend prefs.Backend
		err     error
	)
	switch cfg.Driver {
	case "memory":
		backend = prefs.NewMemory()
	case "file":
		backend, err = prefs.OpenFile(cfg.Path)
	case "sqlite":
		backend, err = prefs.OpenSQLite(cfg.Path)
	case "badger":
		backend, err = prefs.OpenBadger(cfg.Path, logger)
	case "redis":
		backend = prefs.OpenRedis(prefs.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Redis.Timeout,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return prefs.New(backend), nil
}

// Builds the waterfall in the configured order.
func buildSources(cfg config.SourcesConfig, logger *zap.Logger) (*source.Waterfall, error) {
	var sources []source.Source
	for _, name := range cfg.Order {
		switch name {
		case "nts":
			sources = append(sources, source.NewNTS(cfg.NTS.Servers, logger))
		case "ntp":
			sources = append(sources, source.NewNTP(cfg.NTP.Servers, cfg.NTP.Timeout, logger))
		case "http":
			sources = append(sources, source.NewHTTP(source.HTTPOptions{
				URL:        cfg.HTTP.URL,
				Timeout:    cfg.HTTP.Timeout,
				MaxRetries: cfg.HTTP.Retries,
			}, logger))
		case "device":
			sources = append(sources, source.NewDevice())
		default:
			return nil, fmt.Errorf("unknown time source %q", name)
		}
	}
	return source.NewWaterfall(logger, sources...), nil
}

func regressionPolicy(name string) chronos.RegressionPolicy {
	if name == "mark" {
		return chronos.RegressionMarkInitialized
	}
	return chronos.RegressionStayUninitialized
}

// Constructs an authority over a freshly opened store. The caller closes the store after
// disposing of the authority.
func newAuthority(ctx context.Context, cfg *config.Config, signals chronos.Signals, logger *zap.Logger) (*chronos.Authority, *prefs.Store, error) {
	store, err := openStore(cfg.Store, logger)
	if err != nil {
		return nil, nil, err
	}
	resolver, err := buildSources(cfg.Sources, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	a, err := chronos.New(ctx, chronos.Options{
		Resolver:         resolver,
		Store:            store,
		Signals:          signals,
		RegressionPolicy: regressionPolicy(cfg.Initialize.Regression),
		Logger:           logger,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return a, store, nil
}
