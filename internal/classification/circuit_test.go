package classification

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/apex-timing/internal/models"
	"github.com/yourusername/apex-timing/test/helpers"
)

func passageAt(stageID uuid.UUID, bib int, ts time.Time) *models.Reading {
	return helpers.Passage(stageID, uuid.New(), bib, 0, ts)
}

func TestComputeCircuitLapDerivation(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	regs := []*models.Registration{helpers.Registration(stage.ID, 7, "Rider Seven", "OPEN")}

	t0 := *stage.StartTime
	readings := []*models.Reading{
		// The crossing at the start line itself is the launch, not a lap.
		passageAt(stage.ID, 7, t0),
		passageAt(stage.ID, 7, t0.Add(80*time.Second)),
		passageAt(stage.ID, 7, t0.Add(162*time.Second)),
	}

	cls, err := computeCircuit(stage, regs, readings)
	require.NoError(t, err)
	require.Len(t, cls.Results, 1)

	row := cls.Results[0]
	assert.Equal(t, models.StatusClassified, row.Status)
	assert.Equal(t, 2, row.LapsCompleted)
	assert.True(t, row.TotalElapsed.Equal(decimal.NewFromInt(162)), "total elapsed %s", row.TotalElapsed)
	require.True(t, row.BestTime.Valid)
	assert.True(t, row.BestTime.Decimal.Equal(decimal.NewFromInt(80)), "best lap %s", row.BestTime.Decimal)

	require.Len(t, row.Laps, 2)
	assert.True(t, row.Laps[0].Seconds.Equal(decimal.NewFromInt(80)))
	assert.True(t, row.Laps[1].Seconds.Equal(decimal.NewFromInt(82)))
}

func TestComputeCircuitRankingAndGaps(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	regs := []*models.Registration{
		helpers.Registration(stage.ID, 1, "Leader", "OPEN"),
		helpers.Registration(stage.ID, 2, "Chaser", "OPEN"),
		helpers.Registration(stage.ID, 3, "Lapped", "JUNIOR"),
		helpers.Registration(stage.ID, 4, "Absent", "JUNIOR"),
	}

	t0 := *stage.StartTime
	var readings []*models.Reading
	// Leader: three laps of 60s. Chaser: three laps, 5s slower in total.
	for lap := 1; lap <= 3; lap++ {
		readings = append(readings, passageAt(stage.ID, 1, t0.Add(time.Duration(lap*60)*time.Second)))
	}
	readings = append(readings,
		passageAt(stage.ID, 2, t0.Add(62*time.Second)),
		passageAt(stage.ID, 2, t0.Add(123*time.Second)),
		passageAt(stage.ID, 2, t0.Add(185*time.Second)),
		// Lapped rider: only one slow lap.
		passageAt(stage.ID, 3, t0.Add(150*time.Second)),
	)

	cls, err := computeCircuit(stage, regs, readings)
	require.NoError(t, err)
	require.Len(t, cls.Results, 4)

	leader, chaser, lapped, absent := cls.Results[0], cls.Results[1], cls.Results[2], cls.Results[3]

	assert.Equal(t, 1, leader.Bib)
	assert.Equal(t, 1, leader.PositionOverall)
	assert.Equal(t, 1, leader.Position)
	require.True(t, leader.GapToLeader.Valid)
	assert.True(t, leader.GapToLeader.Decimal.IsZero())

	assert.Equal(t, 2, chaser.Bib)
	assert.Equal(t, 2, chaser.PositionOverall)
	require.True(t, chaser.GapToLeader.Valid)
	assert.True(t, chaser.GapToLeader.Decimal.Equal(decimal.NewFromInt(5)), "gap %s", chaser.GapToLeader.Decimal)

	// Different lap count: no time gap, rank by laps.
	assert.Equal(t, 3, lapped.Bib)
	assert.Equal(t, 3, lapped.PositionOverall)
	assert.Equal(t, 1, lapped.Position, "first in JUNIOR")
	assert.False(t, lapped.GapToLeader.Valid)

	assert.Equal(t, 4, absent.Bib)
	assert.Equal(t, models.StatusDidNotStart, absent.Status)
	assert.Equal(t, 0, absent.PositionOverall)
}

func TestComputeCircuitTieBreakByBib(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	regs := []*models.Registration{
		helpers.Registration(stage.ID, 9, "Nine", "OPEN"),
		helpers.Registration(stage.ID, 4, "Four", "OPEN"),
	}

	t0 := *stage.StartTime
	readings := []*models.Reading{
		passageAt(stage.ID, 9, t0.Add(90*time.Second)),
		passageAt(stage.ID, 4, t0.Add(90*time.Second)),
	}

	cls, err := computeCircuit(stage, regs, readings)
	require.NoError(t, err)
	assert.Equal(t, 4, cls.Results[0].Bib, "identical laps and time rank by ascending bib")
	assert.Equal(t, 9, cls.Results[1].Bib)
}

func TestComputeCircuitCountback(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	t0 := *stage.StartTime
	flag := t0.Add(200 * time.Second)
	stage.FlagTime = &flag
	stage.Status = models.StageFinished

	regs := []*models.Registration{
		helpers.Registration(stage.ID, 1, "Leader", "OPEN"),
		helpers.Registration(stage.ID, 2, "One Down", "OPEN"),
		helpers.Registration(stage.ID, 3, "Two Down", "OPEN"),
	}

	var readings []*models.Reading
	// Leader completes 3 laps before the flag.
	for lap := 1; lap <= 3; lap++ {
		readings = append(readings, passageAt(stage.ID, 1, t0.Add(time.Duration(lap*60)*time.Second)))
	}
	// One lap down stays within the countback margin.
	readings = append(readings,
		passageAt(stage.ID, 2, t0.Add(95*time.Second)),
		passageAt(stage.ID, 2, t0.Add(190*time.Second)),
		// Two laps down is out.
		passageAt(stage.ID, 3, t0.Add(199*time.Second)),
	)

	cls, err := computeCircuit(stage, regs, readings)
	require.NoError(t, err)

	assert.Equal(t, models.StatusClassified, cls.Results[0].Status)
	assert.Equal(t, models.StatusClassified, cls.Results[1].Status)
	assert.Equal(t, 2, cls.Results[1].Bib)

	assert.Equal(t, 3, cls.Results[2].Bib)
	assert.Equal(t, models.StatusDidNotFinish, cls.Results[2].Status)
	assert.Equal(t, 0, cls.Results[2].PositionOverall)
}

func TestComputeCircuitAdministrativeStatuses(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	t0 := *stage.StartTime

	retired := helpers.Registration(stage.ID, 5, "Retired", "OPEN")
	retired.Status = models.RegistrationRetired
	dsq := helpers.Registration(stage.ID, 6, "Excluded", "OPEN")
	dsq.Status = models.RegistrationDisqualified
	regs := []*models.Registration{helpers.Registration(stage.ID, 1, "Runner", "OPEN"), retired, dsq}

	readings := []*models.Reading{
		passageAt(stage.ID, 1, t0.Add(70*time.Second)),
		passageAt(stage.ID, 5, t0.Add(71*time.Second)),
		passageAt(stage.ID, 6, t0.Add(65*time.Second)),
	}

	cls, err := computeCircuit(stage, regs, readings)
	require.NoError(t, err)

	assert.Equal(t, 1, cls.Results[0].Bib)
	assert.Equal(t, 1, cls.Results[0].PositionOverall)

	byBib := make(map[int]*models.Result)
	for _, row := range cls.Results {
		byBib[row.Bib] = row
	}
	assert.Equal(t, models.StatusDidNotFinish, byBib[5].Status)
	assert.Equal(t, models.StatusDisqualified, byBib[6].Status)
	assert.Equal(t, 0, byBib[6].PositionOverall, "disqualified riders hold no rank")
	// Their times remain computed for display.
	assert.Equal(t, 1, byBib[6].LapsCompleted)
}

func TestIncrementalMatchesFull(t *testing.T) {
	stage := helpers.CircuitStage(t, models.CircuitConfig{})
	regs := []*models.Registration{
		helpers.Registration(stage.ID, 1, "One", "OPEN"),
		helpers.Registration(stage.ID, 2, "Two", "OPEN"),
	}

	t0 := *stage.StartTime
	readings := []*models.Reading{
		passageAt(stage.ID, 1, t0.Add(60*time.Second)),
		passageAt(stage.ID, 2, t0.Add(61*time.Second)),
	}

	full := &fullStrategy{}
	prev, err := full.Compute(stage, regs, readings, nil, 0)
	require.NoError(t, err)

	// Rider 2 crosses again and takes the lead on lap count.
	readings = append(readings, passageAt(stage.ID, 2, t0.Add(118*time.Second)))

	incremental := &incrementalStrategy{full: full}
	fast, err := incremental.Compute(stage, regs, readings, prev, 2)
	require.NoError(t, err)
	slow, err := full.Compute(stage, regs, readings, nil, 0)
	require.NoError(t, err)

	require.Len(t, fast.Results, len(slow.Results))
	for i := range slow.Results {
		want, got := slow.Results[i], fast.Results[i]
		assert.Equal(t, want.Bib, got.Bib)
		assert.Equal(t, want.PositionOverall, got.PositionOverall)
		assert.Equal(t, want.LapsCompleted, got.LapsCompleted)
		assert.True(t, want.TotalElapsed.Equal(got.TotalElapsed))
		assert.Equal(t, want.Status, got.Status)
	}
}

func TestIncrementalUnusableCases(t *testing.T) {
	full := &fullStrategy{}
	incremental := &incrementalStrategy{full: full}

	circuit := helpers.CircuitStage(t, models.CircuitConfig{})
	regs := []*models.Registration{helpers.Registration(circuit.ID, 1, "One", "OPEN")}

	_, err := incremental.Compute(circuit, regs, nil, nil, 1)
	assert.ErrorIs(t, err, errIncrementalUnusable, "no previous classification")

	circuit.Status = models.StageFlagShown
	prev := &models.Classification{StageID: circuit.ID, Format: circuit.Format}
	_, err = incremental.Compute(circuit, regs, nil, prev, 1)
	assert.ErrorIs(t, err, errIncrementalUnusable, "statuses depend on leader once flagged")

	enduro := helpers.EnduroStage(t, models.EnduroConfig{Laps: 1, SpecialsPerLap: 1})
	_, err = incremental.Compute(enduro, nil, nil, prev, 1)
	assert.ErrorIs(t, err, errIncrementalUnusable, "enduro always recomputes fully")
}
