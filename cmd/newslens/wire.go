package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Keyring-Network/newslens/internal/browser"
	"github.com/Keyring-Network/newslens/internal/config"
	"github.com/Keyring-Network/newslens/internal/events"
	"github.com/Keyring-Network/newslens/internal/extract"
	"github.com/Keyring-Network/newslens/internal/gateway"
	"github.com/Keyring-Network/newslens/internal/orchestrator"
	"github.com/Keyring-Network/newslens/internal/store"
	"github.com/Keyring-Network/newslens/internal/store/memory"
	"github.com/Keyring-Network/newslens/internal/store/postgres"
	"github.com/Keyring-Network/newslens/internal/store/sqlite"
	"github.com/Keyring-Network/newslens/internal/tabs"
)

// browserSession is the host browser as seen by the orchestrator.
type browserSession interface {
	tabs.TabQuerier
	extract.PageReader
	Close() error
}

// tabOpener is implemented by sessions that can open a URL on request.
type tabOpener interface {
	OpenTab(ctx context.Context, url string) (string, error)
}

var (
	loadConfig    = config.Load
	launchBrowser = func(cfg config.Config) (browserSession, error) {
		b, err := browser.Launch(browser.Options{
			Headless: cfg.BrowserHeadless,
			StartURL: cfg.BrowserStartURL,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	openStore = openCacheStore
)

func openCacheStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.CacheBackend {
	case config.CacheBackendMemory:
		return memory.New(cfg.CacheMaxEntries), nil
	case config.CacheBackendSQLite:
		st, err := sqlite.Open(ctx, cfg.CachePath, cfg.CacheMaxEntries)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.CacheBackendPostgres:
		st, err := postgres.New(cfg.PostgresURL, cfg.CacheMaxEntries)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// app is one fully wired orchestrator: browser, cache, backend gateway,
// controller and the dispatch table in front of it.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	session    browserSession
	cache      store.Store
	gateway    *gateway.Gateway
	broker     *events.Broker
	dispatcher *events.Dispatcher
}

func buildApp(ctx context.Context, configPath string, stderr io.Writer) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cfg, stderr)

	cache, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s cache: %w", cfg.CacheBackend, err)
	}
	session, err := launchBrowser(cfg)
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		session:    session,
		cache:      cache,
		gateway:    gateway.New(gateway.Config{BaseURL: cfg.BackendURL, Timeout: cfg.BackendTimeoutDuration()}),
		broker:     events.NewBroker(),
		dispatcher: events.NewDispatcher(),
	}
	controller := orchestrator.New(orchestrator.Deps{
		Tabs:      tabs.NewResolver(session),
		Extractor: extract.NewExtractor(session),
		Backend:   a.gateway,
		Cache:     cache,
		Publisher: a.broker,
		Logger:    logger,
	})
	if err := controller.Register(a.dispatcher); err != nil {
		a.Close()
		return nil, err
	}
	logger.Debug("orchestrator wired",
		"cache_backend", cfg.CacheBackend,
		"cache_max_entries", cfg.CacheMaxEntries,
		"backend_url", cfg.BackendURL,
	)
	return a, nil
}

func (a *app) Close() {
	if err := a.session.Close(); err != nil {
		a.logger.Warn("closing browser", "error", err)
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("closing cache", "error", err)
	}
}
