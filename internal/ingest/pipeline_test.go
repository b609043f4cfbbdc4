package ingest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/apex-timing/internal/config"
	applogger "github.com/yourusername/apex-timing/internal/logger"
	"github.com/yourusername/apex-timing/internal/models"
	"github.com/yourusername/apex-timing/internal/repository"
	"github.com/yourusername/apex-timing/test/helpers"
)

// stubInvalidator bumps the stage counter like the classification engine
// does, and counts calls.
type stubInvalidator struct {
	stages repository.StageRepository
	calls  atomic.Int64
}

func (s *stubInvalidator) Invalidate(ctx context.Context, stageID uuid.UUID) (uint64, error) {
	s.calls.Add(1)
	return s.stages.BumpCacheVersion(ctx, stageID)
}

func testConfig() config.IngestionConfig {
	return config.IngestionConfig{
		ToleranceWindow: time.Second,
		PersistTimeout:  time.Second,
		DeviceRateLimit: 1000,
		DeviceBurst:     1000,
	}
}

func newTestPipeline(t *testing.T, repos *repository.Repositories) (*Pipeline, *stubInvalidator) {
	t.Helper()
	log := helpers.QuietLogger()
	inv := &stubInvalidator{stages: repos.Stage}
	return NewPipeline(repos, testConfig(), inv, nil, applogger.NewAuditLogger(log), log), inv
}

func TestAcceptDerivesCircuitLaps(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	dev := helpers.Device(stage.ID)
	repos := helpers.Seed(t, stage, nil, []*models.Device{dev})
	p, inv := newTestPipeline(t, repos)
	ctx := context.Background()

	first := helpers.Submission(stage.ID, dev.ID, 7, models.KindPassage, stage.StartTime.Add(80*time.Second))
	res := p.Accept(ctx, first)
	require.Equal(t, models.OutcomeAccepted, res.Outcome, "detail: %s", res.Detail)
	require.NotNil(t, res.ReadingID)

	stored, err := repos.Reading.GetByID(ctx, *res.ReadingID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Lap)
	require.True(t, stored.Elapsed.Valid)
	assert.True(t, stored.Elapsed.Decimal.Equal(decimal.NewFromInt(80)))

	second := helpers.Submission(stage.ID, dev.ID, 7, models.KindPassage, stage.StartTime.Add(165*time.Second))
	res = p.Accept(ctx, second)
	require.Equal(t, models.OutcomeAccepted, res.Outcome)

	stored, err = repos.Reading.GetByID(ctx, *res.ReadingID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Lap)
	assert.True(t, stored.Elapsed.Decimal.Equal(decimal.NewFromInt(85)))

	assert.EqualValues(t, 2, inv.calls.Load(), "every accepted reading invalidates the cache")
}

func TestAcceptDeduplicatesExactRetry(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	dev := helpers.Device(stage.ID)
	repos := helpers.Seed(t, stage, nil, []*models.Device{dev})
	p, _ := newTestPipeline(t, repos)
	ctx := context.Background()

	sub := helpers.Submission(stage.ID, dev.ID, 7, models.KindPassage, stage.StartTime.Add(80*time.Second))
	require.Equal(t, models.OutcomeAccepted, p.Accept(ctx, sub).Outcome)

	retry := *sub
	res := p.Accept(ctx, &retry)
	assert.Equal(t, models.OutcomeDuplicate, res.Outcome)

	readings, err := repos.Reading.ListByStage(ctx, stage.ID)
	require.NoError(t, err)
	assert.Len(t, readings, 1)
}

func TestAcceptDeduplicatesSensorBounce(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	dev := helpers.Device(stage.ID)
	repos := helpers.Seed(t, stage, nil, []*models.Device{dev})
	p, _ := newTestPipeline(t, repos)
	ctx := context.Background()

	sub := helpers.Submission(stage.ID, dev.ID, 7, models.KindPassage, stage.StartTime.Add(80*time.Second))
	require.Equal(t, models.OutcomeAccepted, p.Accept(ctx, sub).Outcome)

	// Same crossing seen 400ms later by a second sensor: different hash,
	// caught by the tolerance window and never persisted.
	bounce := helpers.Submission(stage.ID, dev.ID, 7, models.KindPassage, stage.StartTime.Add(80*time.Second+400*time.Millisecond))
	res := p.Accept(ctx, bounce)
	assert.Equal(t, models.OutcomeDuplicate, res.Outcome)

	readings, err := repos.Reading.ListByStage(ctx, stage.ID)
	require.NoError(t, err)
	assert.Len(t, readings, 1)
}

func TestAcceptBatchIsIndependent(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	dev := helpers.Device(stage.ID)
	repos := helpers.Seed(t, stage, nil, []*models.Device{dev})
	p, _ := newTestPipeline(t, repos)

	bad := *helpers.Submission(stage.ID, dev.ID, 0, models.KindPassage, stage.StartTime.Add(time.Second))
	subs := []models.ReadingSubmission{
		*helpers.Submission(stage.ID, dev.ID, 1, models.KindPassage, stage.StartTime.Add(60*time.Second)),
		bad, // bib 0 fails validation
		*helpers.Submission(stage.ID, dev.ID, 2, models.KindPassage, stage.StartTime.Add(61*time.Second)),
	}

	report := p.AcceptBatch(context.Background(), subs)
	assert.Equal(t, 3, report.Received)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 0, report.Duplicated)
	assert.Equal(t, 1, report.Errored)
	require.Len(t, report.Items, 3)
	assert.Equal(t, models.OutcomeRejected, report.Items[1].Outcome)
	assert.Equal(t, models.ReasonValidation, report.Items[1].Reason)
}

func TestAcceptStageStateGate(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	stage.Status = models.StageFinished
	dev := helpers.Device(stage.ID)
	repos := helpers.Seed(t, stage, nil, []*models.Device{dev})
	p, _ := newTestPipeline(t, repos)
	ctx := context.Background()

	sub := helpers.Submission(stage.ID, dev.ID, 7, models.KindPassage, stage.StartTime.Add(80*time.Second))
	res := p.Accept(ctx, sub)
	assert.Equal(t, models.OutcomeRejected, res.Outcome)
	assert.Equal(t, models.ReasonStageState, res.Reason)

	// An offline collector syncing its queue is still allowed in.
	sub.Backfill = true
	res = p.Accept(ctx, sub)
	assert.Equal(t, models.OutcomeAccepted, res.Outcome, "detail: %s", res.Detail)
}

func TestAcceptDeviceChecks(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	otherStage := helpers.CircuitStage(t, models.CircuitConfig{})
	dev := helpers.Device(stage.ID)
	foreign := helpers.Device(otherStage.ID)
	inactive := helpers.Device(stage.ID)
	inactive.Active = false

	repos := helpers.Seed(t, stage, nil, []*models.Device{dev, foreign, inactive})
	p, _ := newTestPipeline(t, repos)
	ctx := context.Background()
	ts := stage.StartTime.Add(time.Minute)

	res := p.Accept(ctx, helpers.Submission(stage.ID, uuid.New(), 1, models.KindPassage, ts))
	assert.Equal(t, models.ReasonDevice, res.Reason, "unregistered device")

	res = p.Accept(ctx, helpers.Submission(stage.ID, foreign.ID, 1, models.KindPassage, ts))
	assert.Equal(t, models.ReasonDevice, res.Reason, "device bound to another stage")

	res = p.Accept(ctx, helpers.Submission(stage.ID, inactive.ID, 1, models.KindPassage, ts))
	assert.Equal(t, models.ReasonDevice, res.Reason, "inactive device")
}

func TestAcceptFormatRouting(t *testing.T) {
	circuit := helpers.CircuitStage(t, models.CircuitConfig{})
	circuitDev := helpers.Device(circuit.ID)
	enduro := helpers.EnduroStage(t, models.EnduroConfig{Laps: 2, SpecialsPerLap: 2})
	enduroDev := helpers.Device(enduro.ID)

	repos := helpers.Seed(t, circuit, nil, []*models.Device{circuitDev})
	repos.Stage.(*repository.MemoryStageRepository).Put(enduro)
	repos.Device.(*repository.MemoryDeviceRepository).Put(enduroDev)
	p, _ := newTestPipeline(t, repos)
	ctx := context.Background()

	res := p.Accept(ctx, helpers.Submission(circuit.ID, circuitDev.ID, 1, models.KindEntry, circuit.StartTime.Add(time.Minute)))
	assert.Equal(t, models.ReasonValidation, res.Reason, "circuit takes only passages")

	res = p.Accept(ctx, helpers.Submission(enduro.ID, enduroDev.ID, 1, models.KindPassage, enduro.StartTime.Add(time.Minute)))
	assert.Equal(t, models.ReasonValidation, res.Reason, "enduro takes no passages")

	// ENTRY without lap/special numbers.
	res = p.Accept(ctx, helpers.Submission(enduro.ID, enduroDev.ID, 1, models.KindEntry, enduro.StartTime.Add(time.Minute)))
	assert.Equal(t, models.ReasonValidation, res.Reason)
}

func TestAcceptPairsExitWithEntry(t *testing.T) {
	stage := helpers.EnduroStage(t, models.EnduroConfig{Laps: 1, SpecialsPerLap: 2})
	dev := helpers.Device(stage.ID)
	repos := helpers.Seed(t, stage, nil, []*models.Device{dev})
	p, _ := newTestPipeline(t, repos)
	ctx := context.Background()

	entry := helpers.Submission(stage.ID, dev.ID, 5, models.KindEntry, stage.StartTime.Add(time.Minute))
	entry.Lap, entry.Special = 1, 1
	require.Equal(t, models.OutcomeAccepted, p.Accept(ctx, entry).Outcome)

	exit := helpers.Submission(stage.ID, dev.ID, 5, models.KindExit, stage.StartTime.Add(time.Minute+290*time.Second))
	exit.Lap, exit.Special = 1, 1
	res := p.Accept(ctx, exit)
	require.Equal(t, models.OutcomeAccepted, res.Outcome)

	stored, err := repos.Reading.GetByID(ctx, *res.ReadingID)
	require.NoError(t, err)
	require.True(t, stored.Elapsed.Valid)
	assert.True(t, stored.Elapsed.Decimal.Equal(decimal.NewFromInt(290)))

	// EXIT for a special with no ENTRY is kept with a null elapsed time.
	orphan := helpers.Submission(stage.ID, dev.ID, 5, models.KindExit, stage.StartTime.Add(20*time.Minute))
	orphan.Lap, orphan.Special = 1, 2
	res = p.Accept(ctx, orphan)
	require.Equal(t, models.OutcomeAccepted, res.Outcome)

	unmatched, err := repos.Reading.ListUnmatchedExits(ctx, stage.ID)
	require.NoError(t, err)
	require.Len(t, unmatched, 1)
	assert.Equal(t, 2, unmatched[0].Special)
}

func TestCorrectRewritesTimestampAndHash(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	dev := helpers.Device(stage.ID)
	repos := helpers.Seed(t, stage, nil, []*models.Device{dev})
	p, inv := newTestPipeline(t, repos)
	ctx := context.Background()

	res := p.Accept(ctx, helpers.Submission(stage.ID, dev.ID, 7, models.KindPassage, stage.StartTime.Add(80*time.Second)))
	require.Equal(t, models.OutcomeAccepted, res.Outcome)
	before, err := repos.Reading.GetByID(ctx, *res.ReadingID)
	require.NoError(t, err)
	callsBefore := inv.calls.Load()

	corrected, err := p.Correct(ctx, before.ID, stage.StartTime.Add(78*time.Second))
	require.NoError(t, err)
	assert.True(t, corrected.ManuallyCorrected)
	assert.NotEqual(t, before.IdentityHash, corrected.IdentityHash)
	assert.True(t, corrected.Elapsed.Decimal.Equal(decimal.NewFromInt(78)))
	assert.Greater(t, inv.calls.Load(), callsBefore, "correction invalidates cached results")
}

func TestDiscardAllowsResubmission(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	dev := helpers.Device(stage.ID)
	repos := helpers.Seed(t, stage, nil, []*models.Device{dev})
	p, _ := newTestPipeline(t, repos)
	ctx := context.Background()

	sub := helpers.Submission(stage.ID, dev.ID, 7, models.KindPassage, stage.StartTime.Add(80*time.Second))
	res := p.Accept(ctx, sub)
	require.Equal(t, models.OutcomeAccepted, res.Outcome)

	require.NoError(t, p.Discard(ctx, *res.ReadingID, "ghost reading"))

	// The identical payload is no longer a duplicate of a live row.
	again := *sub
	res = p.Accept(ctx, &again)
	assert.Equal(t, models.OutcomeAccepted, res.Outcome, "detail: %s", res.Detail)

	require.NoError(t, p.Restore(ctx, *res.ReadingID))
}
