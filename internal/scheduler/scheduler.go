// Package scheduler runs periodic background tasks: retrying unfinished
// station syncs and watching local disk space for the media cache.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/playfleet/stationsync/internal/config"
	"github.com/playfleet/stationsync/internal/events"
	"github.com/playfleet/stationsync/internal/protocol"
	"github.com/playfleet/stationsync/internal/util"
)

const (
	resourceCheckInterval = time.Hour
	diskWarnPercent       = 90
)

// PendingSource lists stations whose last sync did not complete.
type PendingSource interface {
	Pending(ctx context.Context) ([]string, error)
}

// Syncer runs station synchronizations.
type Syncer interface {
	SyncStation(ctx context.Context, stationID string, role protocol.Role, sink events.ProgressSink) (bool, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	pending PendingSource
	syncer  Syncer
	logger  zerolog.Logger
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, pending PendingSource, syncer Syncer) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		pending: pending,
		syncer:  syncer,
		logger:  util.ComponentLogger("scheduler"),
	}
}

// Start runs all scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")

	go s.runRetryLoop(ctx)
	go s.runResourceLoop(ctx)

	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

// runRetryLoop re-reads the interval on every round so configuration
// changes apply without a restart. A non-positive interval pauses retries
// and rechecks the setting every minute.
func (s *Scheduler) runRetryLoop(ctx context.Context) {
	for {
		interval := time.Duration(s.cfg.GetSync().RetryIntervalSec) * time.Second
		enabled := interval > 0
		if !enabled {
			interval = time.Minute
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if enabled {
			s.RetryPending(ctx)
		}
	}
}

// RetryPending re-runs every station that still has a checkpoint snapshot.
// It returns the number of stations that synchronized successfully.
func (s *Scheduler) RetryPending(ctx context.Context) int {
	stations, err := s.pending.Pending(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list unfinished syncs")
		return 0
	}
	if len(stations) == 0 {
		return 0
	}

	role, err := protocol.ParseRole(s.cfg.GetSync().DefaultRole)
	if err != nil {
		s.logger.Error().Err(err).Msg("invalid default role, skipping retries")
		return 0
	}

	s.logger.Info().Int("stations", len(stations)).Msg("retrying unfinished syncs")

	succeeded := 0
	for _, id := range stations {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.syncer.SyncStation(ctx, id, role, nil)
		switch {
		case err != nil:
			s.logger.Error().Err(err).Str("station", id).Msg("sync retry failed")
		case ok:
			succeeded++
		default:
			s.logger.Warn().Str("station", id).Msg("sync retry incomplete")
		}
	}
	return succeeded
}

func (s *Scheduler) runResourceLoop(ctx context.Context) {
	ticker := time.NewTicker(resourceCheckInterval)
	defer ticker.Stop()

	s.checkResources()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkResources()
		}
	}
}

// checkResources warns when the media cache disk is almost full; uploads
// fail once cached files cannot be written.
func (s *Scheduler) checkResources() {
	dir := s.cfg.GetStorage().MediaCacheDir
	usage, err := util.GetResourceUsage(dir)
	if err != nil {
		s.logger.Debug().Err(err).Msg("resource check failed")
		return
	}

	ev := s.logger.Debug()
	if usage.DiskPercent >= diskWarnPercent {
		ev = s.logger.Warn()
	}
	ev.Str("media_dir", dir).
		Str("disk_used", fmt.Sprintf("%.1f%%", usage.DiskPercent)).
		Uint64("disk_free_gb", usage.DiskFreeGB).
		Float64("cpu_percent", usage.CPUPercent).
		Float64("memory_percent", usage.MemoryPercent).
		Msg("resource check")
}
