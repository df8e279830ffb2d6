package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/contextchat/contextchat/internal/config"
	"github.com/contextchat/contextchat/internal/database"
)

const maintenanceTimeout = 5 * time.Minute

// Maintenance runs scheduled store upkeep: pruning messages older than
// the retention window and vacuuming the database.
type Maintenance struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	store     database.Store
	cfg       config.MaintenanceConfig
}

// NewMaintenance creates the maintenance scheduler. It returns nil when
// maintenance is disabled in the configuration.
func NewMaintenance(cfg config.MaintenanceConfig, store database.Store, logger *slog.Logger) (*Maintenance, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "maintenance")

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Maintenance{
		scheduler: s,
		logger:    log,
		store:     store,
		cfg:       cfg,
	}, nil
}

// Start registers the maintenance job and starts the scheduler ticking.
func (m *Maintenance) Start() error {
	_, err := m.scheduler.NewJob(
		gocron.CronJob(m.cfg.Schedule, false),
		gocron.NewTask(m.run),
		gocron.WithName("store_maintenance"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule maintenance task: %w", err)
	}

	m.scheduler.Start()
	m.logger.Info("Maintenance scheduler started",
		"schedule", m.cfg.Schedule, "retention_days", m.cfg.RetentionDays)
	return nil
}

// Stop shuts the scheduler down, waiting for a running job to finish.
func (m *Maintenance) Stop() error {
	if err := m.scheduler.Shutdown(); err != nil {
		m.logger.Error("Error during maintenance scheduler shutdown", "error", err)
		return err
	}
	m.logger.Info("Maintenance scheduler stopped gracefully.")
	return nil
}

func (m *Maintenance) run() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	start := time.Now()
	m.logger.InfoContext(ctx, "Running store maintenance")

	if m.cfg.RetentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
		if _, err := m.store.DeleteMessagesBefore(ctx, cutoff); err != nil {
			m.logger.ErrorContext(ctx, "Failed to prune old messages", "error", err)
		}
	}

	if err := m.store.RunMaintenance(ctx); err != nil {
		m.logger.ErrorContext(ctx, "Store maintenance failed", "error", err)
	}

	m.logger.InfoContext(ctx, "Finished store maintenance", "duration", time.Since(start))
}
