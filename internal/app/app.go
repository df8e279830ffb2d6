// Package app wires the application components together and manages
// their lifecycle: the HTTP API, the optional Telegram front-end, and the
// maintenance scheduler run until shutdown is signalled.
package app

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner is a component that serves until its context is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// App supervises the long-running components.
type App struct {
	logger      *slog.Logger
	runners     []Runner
	maintenance *Maintenance
}

// New creates the application supervisor. Nil runners are skipped, so an
// unconfigured front-end can simply be passed through. maintenance may be
// nil when disabled.
func New(logger *slog.Logger, maintenance *Maintenance, runners ...Runner) *App {
	if logger == nil {
		logger = slog.Default()
	}
	active := make([]Runner, 0, len(runners))
	for _, r := range runners {
		if r != nil {
			active = append(active, r)
		}
	}
	return &App{
		logger:      logger.With("component", "app"),
		runners:     active,
		maintenance: maintenance,
	}
}

// Run starts every component and blocks until the context is cancelled
// or a component fails. It returns an error only for failures other than
// context cancellation.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting application components...", "count", len(a.runners))

	g, gCtx := errgroup.WithContext(ctx)

	for _, r := range a.runners {
		g.Go(func() error {
			return r.Run(gCtx)
		})
	}

	if a.maintenance != nil {
		g.Go(func() error {
			if err := a.maintenance.Start(); err != nil {
				a.logger.Error("Failed to start maintenance scheduler", "error", err)
				return err
			}

			<-gCtx.Done()
			a.logger.Info("Shutdown signal received, stopping maintenance scheduler...")
			if err := a.maintenance.Stop(); err != nil {
				a.logger.Error("Error stopping maintenance scheduler", "error", err)
			}
			return nil
		})
	}

	a.logger.Info("Application running. Waiting for shutdown signal or error...")
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Application stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Application stopped gracefully.")
	return nil
}
