package app

import (
	"fmt"
	"sync/atomic"
	"time"

	"tradesync/internal/config"
	"tradesync/internal/gateway/stream"
	"tradesync/internal/gateway/trading"
	"tradesync/internal/ingest"
	"tradesync/internal/logger"
	"tradesync/internal/mutate"
	"tradesync/internal/pricing"
	"tradesync/internal/reconcile"
	"tradesync/internal/store"
	livehttp "tradesync/internal/transport/http"
)

// Gateway is the combined remote surface: mutation calls plus snapshot
// fetches against the same trading service.
type Gateway interface {
	mutate.RemoteGateway
	reconcile.SnapshotFetcher
}

// AppBuilder assembles the application graph. Construction is split out so
// tests can swap the gateway or drop the config watcher.
type AppBuilder struct {
	cfg *config.Config

	gatewayFn func(config.RemoteConfig) (Gateway, error)
	watcherFn func(string, func(*config.Config)) *config.Watcher

	configPath string
}

// AppBuilderOption tweaks builder construction.
type AppBuilderOption func(*AppBuilder)

// NewAppBuilder builds an AppBuilder over cfg.
func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg: cfg,
		gatewayFn: func(rc config.RemoteConfig) (Gateway, error) {
			return trading.NewClient(rc)
		},
		watcherFn: config.NewWatcher,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithGateway substitutes the remote gateway, mainly for tests.
func WithGateway(fn func(config.RemoteConfig) (Gateway, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.gatewayFn = fn
		}
	}
}

// WithConfigPath enables hot reload of the file at path.
func WithConfigPath(path string) AppBuilderOption {
	return func(b *AppBuilder) { b.configPath = path }
}

// Build wires store, gateway, scheduler, mutation controller, ingester,
// stream source and HTTP server together.
func (b *AppBuilder) Build() (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	st := store.New()

	gw, err := b.gatewayFn(cfg.Remote)
	if err != nil {
		return nil, fmt.Errorf("building trading gateway failed: %w", err)
	}

	scheduler := reconcile.New(st, gw, time.Duration(cfg.Reconcile.IntervalSeconds)*time.Second)

	// The convention is read through an atomic so a config reload flips it
	// without restarting anything.
	var convention atomic.Value
	convention.Store(pricing.ParseConvention(cfg.SlTp.SideConvention))

	controller := mutate.New(st, gw,
		mutate.WithRefreshHook(scheduler.RefreshNow),
		mutate.WithConvention(func() pricing.Convention {
			return convention.Load().(pricing.Convention)
		}),
	)

	ingester := ingest.New(st)

	var source *stream.Source
	if cfg.Stream.Enabled {
		source = stream.NewSource(cfg.Stream)
	}

	var watcher *config.Watcher
	if b.configPath != "" {
		watcher = b.watcherFn(b.configPath, func(next *config.Config) {
			logger.SetLevel(next.App.LogLevel)
			scheduler.SetInterval(time.Duration(next.Reconcile.IntervalSeconds) * time.Second)
			convention.Store(pricing.ParseConvention(next.SlTp.SideConvention))
			logger.Infof("app: config reloaded log_level=%s reconcile_interval=%ds convention=%s",
				next.App.LogLevel, next.Reconcile.IntervalSeconds, next.SlTp.SideConvention)
		})
	}

	router := livehttp.NewRouter(st, controller, scheduler, ingester)
	server := livehttp.NewServer(cfg.App.HTTPAddr, router)

	return &App{
		cfg:       cfg,
		store:     st,
		scheduler: scheduler,
		ingester:  ingester,
		source:    source,
		watcher:   watcher,
		server:    server,
	}, nil
}
