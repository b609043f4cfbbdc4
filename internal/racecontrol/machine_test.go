package racecontrol

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applogger "github.com/yourusername/apex-timing/internal/logger"
	"github.com/yourusername/apex-timing/internal/models"
	"github.com/yourusername/apex-timing/internal/repository"
	"github.com/yourusername/apex-timing/test/helpers"
)

type countingInvalidator struct {
	stages repository.StageRepository
	calls  int
}

func (c *countingInvalidator) Invalidate(ctx context.Context, stageID uuid.UUID) (uint64, error) {
	c.calls++
	return c.stages.BumpCacheVersion(ctx, stageID)
}

func newTestMachine(t *testing.T, stage *models.Stage) (*Machine, *repository.Repositories, *countingInvalidator) {
	t.Helper()
	repos := helpers.Seed(t, stage, nil, nil)
	inv := &countingInvalidator{stages: repos.Stage}
	log := helpers.QuietLogger()
	return NewMachine(repos.Stage, inv, applogger.NewAuditLogger(log), log), repos, inv
}

func TestMachineFullLifecycle(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	stage.Status = models.StageNotStarted
	stage.StartTime = nil
	m, repos, inv := newTestMachine(t, stage)
	ctx := context.Background()

	startAt := helpers.BaseTime
	updated, err := m.Start(ctx, stage.ID, &startAt)
	require.NoError(t, err)
	assert.Equal(t, models.StageRunning, updated.Status)
	require.NotNil(t, updated.StartTime)
	assert.True(t, updated.StartTime.Equal(startAt))

	flagAt := helpers.BaseTime.Add(time.Hour)
	updated, err = m.ShowFlag(ctx, stage.ID, &flagAt)
	require.NoError(t, err)
	assert.Equal(t, models.StageFlagShown, updated.Status)
	require.NotNil(t, updated.FlagTime)
	assert.True(t, updated.FlagTime.Equal(flagAt))

	updated, err = m.Finish(ctx, stage.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageFinished, updated.Status)

	stored, err := repos.Stage.GetByID(ctx, stage.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageFinished, stored.Status)
	assert.Equal(t, 3, inv.calls, "every transition invalidates cached results")
}

func TestMachineRejectsIllegalTransitions(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	stage.Status = models.StageNotStarted
	stage.StartTime = nil
	m, repos, _ := newTestMachine(t, stage)
	ctx := context.Background()

	_, err := m.ShowFlag(ctx, stage.ID, nil)
	require.Error(t, err)
	assert.True(t, models.IsStateConflict(err), "flag before start")

	_, err = m.Finish(ctx, stage.ID)
	assert.True(t, models.IsStateConflict(err), "finish before flag")

	// Failed transitions leave the stage untouched.
	stored, err := repos.Stage.GetByID(ctx, stage.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageNotStarted, stored.Status)

	_, err = m.Start(ctx, stage.ID, nil)
	require.NoError(t, err)
	_, err = m.Start(ctx, stage.ID, nil)
	assert.True(t, models.IsStateConflict(err), "double start")
}

func TestMachineCancelFromAnywhere(t *testing.T) {
	for _, from := range []models.StageStatus{
		models.StageNotStarted,
		models.StageRunning,
		models.StageFlagShown,
		models.StageFinished,
	} {
		t.Run(string(from), func(t *testing.T) {
			stage := helpers.CircuitStage(t, models.CircuitConfig{})
			stage.Status = from
			m, _, _ := newTestMachine(t, stage)

			updated, err := m.Cancel(context.Background(), stage.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StageCancelled, updated.Status)
		})
	}

	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	stage.Status = models.StageCancelled
	m, _, _ := newTestMachine(t, stage)
	_, err := m.Cancel(context.Background(), stage.ID)
	assert.True(t, models.IsStateConflict(err), "cancel is terminal")
}

func TestMachineDefaultsTimesToNow(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	stage.Status = models.StageNotStarted
	stage.StartTime = nil
	m, _, _ := newTestMachine(t, stage)

	before := time.Now().UTC()
	updated, err := m.Start(context.Background(), stage.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, updated.StartTime)
	assert.False(t, updated.StartTime.Before(before))
	assert.False(t, updated.StartTime.After(time.Now().UTC()))
}

func TestMachineUnknownStage(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	m, _, _ := newTestMachine(t, stage)

	_, err := m.Start(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
