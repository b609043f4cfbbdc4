// Package racecontrol owns the stage lifecycle and its time anchors. All
// status mutations of a stage go through this state machine; an illegal
// transition fails with a state conflict and leaves the stage untouched.
package racecontrol

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	applogger "github.com/yourusername/apex-timing/internal/logger"
	"github.com/yourusername/apex-timing/internal/models"
	"github.com/yourusername/apex-timing/internal/repository"
)

// CacheInvalidator marks a stage's cached classification stale when the
// lifecycle changes the meaning of its results (flag, finish, cancel).
type CacheInvalidator interface {
	Invalidate(ctx context.Context, stageID uuid.UUID) (uint64, error)
}

// Machine applies race-control transitions to stages.
type Machine struct {
	stages      repository.StageRepository
	invalidator CacheInvalidator
	audit       *applogger.AuditLogger
	logger      *logrus.Logger
}

// NewMachine creates a race-control state machine.
func NewMachine(stages repository.StageRepository, invalidator CacheInvalidator, audit *applogger.AuditLogger, log *logrus.Logger) *Machine {
	return &Machine{stages: stages, invalidator: invalidator, audit: audit, logger: log}
}

// Start transitions NOT_STARTED -> RUNNING. A nil startTime defaults to now.
func (m *Machine) Start(ctx context.Context, stageID uuid.UUID, startTime *time.Time) (*models.Stage, error) {
	return m.transition(ctx, stageID, "start", func(stage *models.Stage) (*models.Stage, error) {
		if stage.Status != models.StageNotStarted {
			return nil, models.NewStateConflict(stage.Status, "start")
		}
		at := time.Now().UTC()
		if startTime != nil {
			at = startTime.UTC()
		}
		stage.Status = models.StageRunning
		stage.StartTime = &at
		return stage, nil
	})
}

// ShowFlag transitions RUNNING -> FLAG_SHOWN. A nil flagTime defaults to now.
func (m *Machine) ShowFlag(ctx context.Context, stageID uuid.UUID, flagTime *time.Time) (*models.Stage, error) {
	return m.transition(ctx, stageID, "show_flag", func(stage *models.Stage) (*models.Stage, error) {
		if stage.Status != models.StageRunning {
			return nil, models.NewStateConflict(stage.Status, "show_flag")
		}
		at := time.Now().UTC()
		if flagTime != nil {
			at = flagTime.UTC()
		}
		stage.Status = models.StageFlagShown
		stage.FlagTime = &at
		return stage, nil
	})
}

// Finish transitions FLAG_SHOWN -> FINISHED.
func (m *Machine) Finish(ctx context.Context, stageID uuid.UUID) (*models.Stage, error) {
	return m.transition(ctx, stageID, "finish", func(stage *models.Stage) (*models.Stage, error) {
		if stage.Status != models.StageFlagShown {
			return nil, models.NewStateConflict(stage.Status, "finish")
		}
		stage.Status = models.StageFinished
		return stage, nil
	})
}

// Cancel transitions any state -> CANCELLED. An in-flight classification
// recompute observes the new status and discards its result.
func (m *Machine) Cancel(ctx context.Context, stageID uuid.UUID) (*models.Stage, error) {
	return m.transition(ctx, stageID, "cancel", func(stage *models.Stage) (*models.Stage, error) {
		if stage.Status == models.StageCancelled {
			return nil, models.NewStateConflict(stage.Status, "cancel")
		}
		stage.Status = models.StageCancelled
		return stage, nil
	})
}

func (m *Machine) transition(ctx context.Context, stageID uuid.UUID, name string, apply func(*models.Stage) (*models.Stage, error)) (*models.Stage, error) {
	stage, err := m.stages.GetByID(ctx, stageID)
	if err != nil {
		return nil, err
	}

	from := stage.Status
	stage, err = apply(stage)
	if err != nil {
		return nil, err
	}

	if err := m.stages.UpdateState(ctx, stageID, stage.Status, stage.StartTime, stage.FlagTime); err != nil {
		return nil, err
	}

	var at *time.Time
	switch name {
	case "start":
		at = stage.StartTime
	case "show_flag":
		at = stage.FlagTime
	}
	m.audit.LogRaceControl(stageID, name, string(from), string(stage.Status), at)
	m.logger.WithFields(logrus.Fields{
		"stage_id": stageID,
		"from":     from,
		"to":       stage.Status,
	}).Info("Race control transition applied")

	// The lifecycle change redefines how readings classify; cached results
	// for the old state are stale.
	if m.invalidator != nil {
		if _, err := m.invalidator.Invalidate(ctx, stageID); err != nil {
			m.logger.WithError(err).Warn("failed to invalidate cache after transition")
		}
	}

	return stage, nil
}
