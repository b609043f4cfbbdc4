package classification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/apex-timing/internal/models"
	"github.com/yourusername/apex-timing/internal/repository"
	"github.com/yourusername/apex-timing/test/helpers"
)

func seedEngine(t *testing.T, stage *models.Stage, regs []*models.Registration, readings []*models.Reading) (*Engine, *repository.Repositories) {
	t.Helper()
	repos := helpers.Seed(t, stage, regs, nil)
	for _, r := range readings {
		require.NoError(t, repos.Reading.Create(context.Background(), r))
	}
	return NewEngine(repos, NewCache(time.Minute), helpers.QuietLogger()), repos
}

func TestClassificationServesCachedEntry(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	regs := []*models.Registration{helpers.Registration(stage.ID, 1, "One", "OPEN")}
	readings := []*models.Reading{
		helpers.Passage(stage.ID, stage.ID, 1, 1, stage.StartTime.Add(75*time.Second)),
	}
	engine, _ := seedEngine(t, stage, regs, readings)
	ctx := context.Background()

	first, err := engine.Classification(ctx, stage.ID, Filters{})
	require.NoError(t, err)

	second, err := engine.Classification(ctx, stage.ID, Filters{})
	require.NoError(t, err)

	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.ComputedAt, second.ComputedAt, "unchanged version serves the cached computation")
}

func TestInvalidateForcesRecompute(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	regs := []*models.Registration{helpers.Registration(stage.ID, 1, "One", "OPEN")}
	readings := []*models.Reading{
		helpers.Passage(stage.ID, stage.ID, 1, 1, stage.StartTime.Add(75*time.Second)),
	}
	engine, repos := seedEngine(t, stage, regs, readings)
	ctx := context.Background()

	first, err := engine.Classification(ctx, stage.ID, Filters{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Results[0].LapsCompleted)

	// A new reading lands: the pipeline stores it and bumps the version.
	require.NoError(t, repos.Reading.Create(ctx,
		helpers.Passage(stage.ID, stage.ID, 1, 2, stage.StartTime.Add(150*time.Second))))
	newVersion, err := engine.Invalidate(ctx, stage.ID)
	require.NoError(t, err)
	assert.Greater(t, newVersion, first.Version)

	second, err := engine.Classification(ctx, stage.ID, Filters{})
	require.NoError(t, err)
	assert.Equal(t, newVersion, second.Version)
	assert.Equal(t, 2, second.Results[0].LapsCompleted, "recompute sees the new reading")
}

func TestCancelledStageNotCached(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	stage.Status = models.StageCancelled
	regs := []*models.Registration{helpers.Registration(stage.ID, 1, "One", "OPEN")}
	engine, _ := seedEngine(t, stage, regs, nil)

	cls, err := engine.Classification(context.Background(), stage.ID, Filters{})
	require.NoError(t, err)
	require.Len(t, cls.Results, 1)

	assert.Nil(t, engine.cache.Get(stage.ID), "cancelled stages never populate the cache")
}

func TestClassificationFilters(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	dsq := helpers.Registration(stage.ID, 2, "Excluded", "OPEN")
	dsq.Status = models.RegistrationDisqualified
	regs := []*models.Registration{
		helpers.Registration(stage.ID, 1, "One", "OPEN"),
		dsq,
		helpers.Registration(stage.ID, 3, "Junior", "JUNIOR"),
	}
	readings := []*models.Reading{
		helpers.Passage(stage.ID, stage.ID, 1, 1, stage.StartTime.Add(60*time.Second)),
		helpers.Passage(stage.ID, stage.ID, 2, 1, stage.StartTime.Add(61*time.Second)),
		helpers.Passage(stage.ID, stage.ID, 3, 1, stage.StartTime.Add(62*time.Second)),
	}
	engine, _ := seedEngine(t, stage, regs, readings)
	ctx := context.Background()

	plain, err := engine.Classification(ctx, stage.ID, Filters{})
	require.NoError(t, err)
	require.Len(t, plain.Results, 2, "disqualified hidden by default")
	assert.Nil(t, plain.Results[0].Laps, "lap detail withheld by default")

	withDSQ, err := engine.Classification(ctx, stage.ID, Filters{IncludeDisqualified: true, IncludeDetail: true})
	require.NoError(t, err)
	require.Len(t, withDSQ.Results, 3)
	assert.NotNil(t, withDSQ.Results[0].Laps)

	juniors, err := engine.Classification(ctx, stage.ID, Filters{Category: "JUNIOR"})
	require.NoError(t, err)
	require.Len(t, juniors.Results, 1)
	assert.Equal(t, 3, juniors.Results[0].Bib)
}

func TestApplyUpdateWarmsCache(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	regs := []*models.Registration{helpers.Registration(stage.ID, 1, "One", "OPEN")}
	readings := []*models.Reading{
		helpers.Passage(stage.ID, stage.ID, 1, 1, stage.StartTime.Add(60*time.Second)),
	}
	engine, _ := seedEngine(t, stage, regs, readings)
	ctx := context.Background()

	cls, err := engine.ApplyUpdate(ctx, stage.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, cls.Results[0].LapsCompleted)

	cached := engine.cache.Get(stage.ID)
	require.NotNil(t, cached)
	assert.Equal(t, cls.ComputedAt, cached.ComputedAt)
}

func TestProjectionRows(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	regs := []*models.Registration{
		helpers.Registration(stage.ID, 1, "One", "OPEN"),
		helpers.Registration(stage.ID, 2, "Two", "OPEN"),
	}
	readings := []*models.Reading{
		helpers.Passage(stage.ID, stage.ID, 1, 1, stage.StartTime.Add(60*time.Second)),
		helpers.Passage(stage.ID, stage.ID, 1, 2, stage.StartTime.Add(125*time.Second)),
		helpers.Passage(stage.ID, stage.ID, 2, 1, stage.StartTime.Add(70*time.Second)),
	}
	engine, _ := seedEngine(t, stage, regs, readings)

	rows, err := engine.Projection(context.Background(), stage.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	lead := rows[0]
	assert.Equal(t, 1, lead.Bib)
	assert.Equal(t, 2, lead.Laps)
	require.True(t, lead.LastLap.Valid)
	assert.True(t, lead.LastLap.Decimal.IntPart() == 65)
	require.True(t, lead.BestLap.Valid)
	assert.True(t, lead.BestLap.Decimal.IntPart() == 60)
	assert.True(t, lead.InTrack)
}

// snapshotRecorder wraps a strategy and records the prev snapshot each call
// receives.
type snapshotRecorder struct {
	inner Strategy
	seen  []*models.Classification
}

func (r *snapshotRecorder) Name() string { return r.inner.Name() }

func (r *snapshotRecorder) Compute(stage *models.Stage, regs []*models.Registration, readings []*models.Reading, prev *models.Classification, changedBib int) (*models.Classification, error) {
	r.seen = append(r.seen, prev)
	return r.inner.Compute(stage, regs, readings, prev, changedBib)
}

func TestApplyUpdateRewritesFromCachedSnapshot(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	regs := []*models.Registration{
		helpers.Registration(stage.ID, 1, "One", "OPEN"),
		helpers.Registration(stage.ID, 2, "Two", "OPEN"),
	}
	readings := []*models.Reading{
		helpers.Passage(stage.ID, stage.ID, 1, 1, stage.StartTime.Add(60*time.Second)),
		helpers.Passage(stage.ID, stage.ID, 2, 1, stage.StartTime.Add(62*time.Second)),
	}
	engine, repos := seedEngine(t, stage, regs, readings)
	ctx := context.Background()

	warm, err := engine.Classification(ctx, stage.ID, Filters{})
	require.NoError(t, err)

	// Ingestion order: the reading is stored and the version bumped before
	// the update notification reaches the engine.
	require.NoError(t, repos.Reading.Create(ctx,
		helpers.Passage(stage.ID, stage.ID, 1, 2, stage.StartTime.Add(125*time.Second))))
	_, err = engine.Invalidate(ctx, stage.ID)
	require.NoError(t, err)

	recorder := &snapshotRecorder{inner: engine.incremental}
	engine.incremental = recorder

	cls, err := engine.ApplyUpdate(ctx, stage.ID, 1)
	require.NoError(t, err)

	require.Len(t, recorder.seen, 1)
	require.NotNil(t, recorder.seen[0], "single-row rewrite starts from the cached snapshot")
	assert.Equal(t, warm.Version, recorder.seen[0].Version)
	assert.Equal(t, 2, cls.Results[0].LapsCompleted)

	cached := engine.cache.Get(stage.ID)
	require.NotNil(t, cached)
	assert.Equal(t, cls.Version, cached.Version, "rewrite is cached at the bumped version")
}

func TestApplyUpdateFallsBackWhenSnapshotTooOld(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	regs := []*models.Registration{helpers.Registration(stage.ID, 1, "One", "OPEN")}
	readings := []*models.Reading{
		helpers.Passage(stage.ID, stage.ID, 1, 1, stage.StartTime.Add(60*time.Second)),
	}
	engine, repos := seedEngine(t, stage, regs, readings)
	ctx := context.Background()

	_, err := engine.Classification(ctx, stage.ID, Filters{})
	require.NoError(t, err)

	// Two readings land but only the second notification arrives: the
	// snapshot is two versions behind and must not be rewritten in place.
	require.NoError(t, repos.Reading.Create(ctx,
		helpers.Passage(stage.ID, stage.ID, 1, 2, stage.StartTime.Add(125*time.Second))))
	_, err = engine.Invalidate(ctx, stage.ID)
	require.NoError(t, err)
	require.NoError(t, repos.Reading.Create(ctx,
		helpers.Passage(stage.ID, stage.ID, 1, 3, stage.StartTime.Add(190*time.Second))))
	_, err = engine.Invalidate(ctx, stage.ID)
	require.NoError(t, err)

	recorder := &snapshotRecorder{inner: engine.incremental}
	engine.incremental = recorder

	cls, err := engine.ApplyUpdate(ctx, stage.ID, 1)
	require.NoError(t, err)

	require.Len(t, recorder.seen, 1)
	assert.Nil(t, recorder.seen[0], "stale snapshot is discarded")
	assert.Equal(t, 3, cls.Results[0].LapsCompleted, "full recompute sees every reading")
}
