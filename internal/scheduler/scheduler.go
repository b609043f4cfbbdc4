package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/apex-timing/internal/classification"
	"github.com/yourusername/apex-timing/internal/models"
	"github.com/yourusername/apex-timing/internal/repository"
)

// Scheduler runs the background maintenance jobs: periodic classification
// refresh for running stages so the cache is warm even when no reading has
// arrived, and expired-entry sweeps on the result cache.
type Scheduler struct {
	cron        *cron.Cron
	engine      *classification.Engine
	resultCache *classification.Cache
	stages      repository.StageRepository
	logger      *logrus.Logger

	mu        sync.RWMutex
	isRunning bool
	jobIDs    []cron.EntryID
}

// NewScheduler creates a scheduler; jobs are registered separately.
func NewScheduler(engine *classification.Engine, resultCache *classification.Cache, stages repository.StageRepository, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:        cron.New(cron.WithLocation(time.UTC)),
		engine:      engine,
		resultCache: resultCache,
		stages:      stages,
		logger:      logger,
		jobIDs:      make([]cron.EntryID, 0),
	}
}

// ScheduleLiveRefresh periodically recomputes the classification of every
// RUNNING and FLAG_SHOWN stage. The version check in the engine makes this a
// no-op when nothing changed.
func (s *Scheduler) ScheduleLiveRefresh(intervalSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cannot schedule job while scheduler is running")
	}
	if intervalSeconds < 5 {
		intervalSeconds = 5
	}

	jobFunc := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(intervalSeconds-1)*time.Second)
		defer cancel()
		s.refreshActiveStages(ctx)
	}

	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", intervalSeconds), jobFunc)
	if err != nil {
		return fmt.Errorf("failed to add job: %w", err)
	}

	s.jobIDs = append(s.jobIDs, entryID)
	s.logger.WithField("interval_seconds", intervalSeconds).Info("Scheduled live classification refresh")

	return nil
}

// ScheduleCacheSweep evicts expired result-cache entries on an interval.
func (s *Scheduler) ScheduleCacheSweep(interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cannot schedule job while scheduler is running")
	}
	if interval < time.Minute {
		interval = time.Minute
	}

	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.resultCache.DeleteExpired()
	})
	if err != nil {
		return fmt.Errorf("failed to add job: %w", err)
	}

	s.jobIDs = append(s.jobIDs, entryID)
	s.logger.WithField("interval", interval.String()).Info("Scheduled result cache sweep")

	return nil
}

func (s *Scheduler) refreshActiveStages(ctx context.Context) {
	for _, status := range []models.StageStatus{models.StageRunning, models.StageFlagShown} {
		stages, err := s.stages.ListByStatus(ctx, status)
		if err != nil {
			s.logger.WithError(err).Warn("live refresh: listing stages failed")
			continue
		}
		for _, stage := range stages {
			if _, err := s.engine.Classification(ctx, stage.ID, classification.Filters{}); err != nil {
				s.logger.WithError(err).WithField("stage_id", stage.ID).Warn("live refresh failed")
			}
		}
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if len(s.jobIDs) == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.WithField("jobs", len(s.jobIDs)).Info("Scheduler started")

	return nil
}

// Stop gracefully stops the scheduler, waiting for running jobs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	<-s.cron.Stop().Done()
	s.isRunning = false
	s.logger.Info("Scheduler stopped")

	return nil
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRun returns the time of the next scheduled job run.
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning || len(s.jobIDs) == 0 {
		return time.Time{}
	}

	nextRun := time.Time{}
	for _, jobID := range s.jobIDs {
		entry := s.cron.Entry(jobID)
		if entry.Valid() {
			if nextRun.IsZero() || entry.Next.Before(nextRun) {
				nextRun = entry.Next
			}
		}
	}

	return nextRun
}
