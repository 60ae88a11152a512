// Package app owns application-level orchestration: build the dependency
// graph from config, then run every long-lived loop under one errgroup.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tradesync/internal/config"
	"tradesync/internal/gateway/stream"
	"tradesync/internal/ingest"
	"tradesync/internal/logger"
	"tradesync/internal/reconcile"
	"tradesync/internal/store"
	livehttp "tradesync/internal/transport/http"
)

// App holds the assembled components.
type App struct {
	cfg       *config.Config
	store     *store.Store
	scheduler *reconcile.Scheduler
	ingester  *ingest.Ingester
	source    *stream.Source
	watcher   *config.Watcher
	server    *livehttp.Server
}

// NewApp builds the application from config without starting it.
func NewApp(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(cfg, opts...)
}

// Store exposes the reconciled state table (for testing harnesses).
func (a *App) Store() *store.Store {
	if a == nil {
		return nil
	}
	return a.store
}

// Run starts every loop and blocks until ctx is cancelled or a component
// fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if a.watcher != nil {
		if err := a.watcher.Start(); err != nil {
			logger.Warnf("app: config watch disabled: %v", err)
		}
	}

	if a.cfg.Reconcile.RunImmediately {
		a.scheduler.RefreshNow()
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		a.scheduler.Run(ctx)
		return nil
	})

	if a.source != nil {
		group.Go(func() error {
			a.source.Run(ctx)
			return nil
		})
		group.Go(func() error {
			a.ingester.Run(ctx, a.source.Events())
			return nil
		})
	}

	return group.Wait()
}
