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

// specialPair appends an ENTRY/EXIT pair taking the given number of seconds.
func specialPair(readings []*models.Reading, stageID uuid.UUID, bib, lap, special int, start time.Time, seconds int) []*models.Reading {
	dev := uuid.New()
	return append(readings,
		helpers.Entry(stageID, dev, bib, lap, special, start),
		helpers.Exit(stageID, dev, bib, lap, special, start.Add(time.Duration(seconds)*time.Second)),
	)
}

func TestComputeEnduroPenaltyForMissedSpecial(t *testing.T) {
	stage := helpers.EnduroStage(t, models.EnduroConfig{
		Laps: 1, SpecialsPerLap: 3, PenaltySeconds: 60,
	})
	stage.Status = models.StageFinished
	regs := []*models.Registration{helpers.Registration(stage.ID, 11, "Rider Eleven", "E1")}

	t0 := *stage.StartTime
	var readings []*models.Reading
	readings = specialPair(readings, stage.ID, 11, 1, 1, t0, 300)
	// Special 2 is skipped entirely.
	readings = specialPair(readings, stage.ID, 11, 1, 3, t0.Add(10*time.Minute), 280)

	cls, err := computeEnduro(stage, regs, readings)
	require.NoError(t, err)
	require.Len(t, cls.Results, 1)

	row := cls.Results[0]
	assert.Equal(t, models.StatusClassified, row.Status)
	assert.True(t, row.TotalElapsed.Equal(decimal.NewFromInt(640)), "total %s", row.TotalElapsed)
	assert.True(t, row.PenaltySeconds.Equal(decimal.NewFromInt(60)), "penalty %s", row.PenaltySeconds)

	require.Len(t, row.Specials, 3)
	assert.False(t, row.Specials[0].Penalised)
	assert.True(t, row.Specials[1].Penalised)
	assert.False(t, row.Specials[1].Seconds.Valid)
	assert.True(t, row.Specials[2].Seconds.Decimal.Equal(decimal.NewFromInt(280)))
}

func TestComputeEnduroNoPenaltyWhileRunning(t *testing.T) {
	stage := helpers.EnduroStage(t, models.EnduroConfig{
		Laps: 1, SpecialsPerLap: 2, PenaltySeconds: 60,
	})
	regs := []*models.Registration{helpers.Registration(stage.ID, 3, "Mid Race", "E1")}

	readings := specialPair(nil, stage.ID, 3, 1, 1, *stage.StartTime, 200)

	cls, err := computeEnduro(stage, regs, readings)
	require.NoError(t, err)

	row := cls.Results[0]
	assert.True(t, row.TotalElapsed.Equal(decimal.NewFromInt(200)), "un-run specials do not score mid-race")
	assert.True(t, row.PenaltySeconds.IsZero())
	assert.False(t, row.Specials[1].Penalised)
}

func TestComputeEnduroReconLap(t *testing.T) {
	stage := helpers.EnduroStage(t, models.EnduroConfig{
		Laps: 2, SpecialsPerLap: 1, ReconLap: true, PenaltySeconds: 60,
	})
	stage.Status = models.StageFinished
	regs := []*models.Registration{helpers.Registration(stage.ID, 8, "Scout", "E2")}

	t0 := *stage.StartTime
	var readings []*models.Reading
	readings = specialPair(readings, stage.ID, 8, 1, 1, t0, 500)
	readings = specialPair(readings, stage.ID, 8, 2, 1, t0.Add(20*time.Minute), 310)

	cls, err := computeEnduro(stage, regs, readings)
	require.NoError(t, err)

	row := cls.Results[0]
	assert.True(t, row.TotalElapsed.Equal(decimal.NewFromInt(310)), "reconnaissance lap does not score")
	require.Len(t, row.Specials, 2)
	assert.False(t, row.Specials[0].Scoring)
	assert.True(t, row.Specials[1].Scoring)
	require.True(t, row.BestTime.Valid)
	assert.True(t, row.BestTime.Decimal.Equal(decimal.NewFromInt(310)))
}

func TestComputeEnduroRanking(t *testing.T) {
	stage := helpers.EnduroStage(t, models.EnduroConfig{
		Laps: 1, SpecialsPerLap: 1, PenaltySeconds: 120,
	})
	stage.Status = models.StageFinished

	dnf := helpers.Registration(stage.ID, 30, "Crashed", "E1")
	dnf.Status = models.RegistrationRetired
	regs := []*models.Registration{
		helpers.Registration(stage.ID, 10, "Fast", "E1"),
		helpers.Registration(stage.ID, 20, "Slow", "E1"),
		dnf,
		helpers.Registration(stage.ID, 40, "No Show", "E1"),
	}

	t0 := *stage.StartTime
	var readings []*models.Reading
	readings = specialPair(readings, stage.ID, 10, 1, 1, t0, 290)
	readings = specialPair(readings, stage.ID, 20, 1, 1, t0, 305)
	readings = specialPair(readings, stage.ID, 30, 1, 1, t0, 280)

	cls, err := computeEnduro(stage, regs, readings)
	require.NoError(t, err)
	require.Len(t, cls.Results, 4)

	assert.Equal(t, 10, cls.Results[0].Bib)
	assert.Equal(t, 1, cls.Results[0].PositionOverall)
	assert.Equal(t, 20, cls.Results[1].Bib)
	require.True(t, cls.Results[1].GapToLeader.Valid)
	assert.True(t, cls.Results[1].GapToLeader.Decimal.Equal(decimal.NewFromInt(15)))

	assert.Equal(t, 30, cls.Results[2].Bib)
	assert.Equal(t, models.StatusDidNotFinish, cls.Results[2].Status)
	assert.Equal(t, 40, cls.Results[3].Bib)
	assert.Equal(t, models.StatusDidNotStart, cls.Results[3].Status)
}

func TestPairSpecialsIgnoresUnmatchedExit(t *testing.T) {
	stageID := uuid.New()
	dev := uuid.New()
	readings := []*models.Reading{
		// EXIT with no ENTRY for the same (lap, special).
		helpers.Exit(stageID, dev, 5, 1, 1, helpers.BaseTime.Add(5*time.Minute)),
	}

	times, sawAny := pairSpecials(readings, 5)
	assert.True(t, sawAny)
	assert.Empty(t, times)
}

func TestSpecialLeaderboardOrdering(t *testing.T) {
	stage := helpers.EnduroStage(t, models.EnduroConfig{Laps: 1, SpecialsPerLap: 1})
	regs := []*models.Registration{
		helpers.Registration(stage.ID, 1, "A", "E1"),
		helpers.Registration(stage.ID, 2, "B", "E1"),
		helpers.Registration(stage.ID, 3, "C", "E1"),
	}

	t0 := *stage.StartTime
	var readings []*models.Reading
	readings = specialPair(readings, stage.ID, 1, 1, 1, t0, 300)
	readings = specialPair(readings, stage.ID, 2, 1, 1, t0, 285)
	readings = specialPair(readings, stage.ID, 3, 1, 1, t0, 300)

	board := specialLeaderboard(regs, readings, 1, 1)
	require.Len(t, board, 3)

	assert.Equal(t, 2, board[0].Bib)
	assert.True(t, board[0].GapToBest.IsZero())
	// Equal times rank by ascending bib.
	assert.Equal(t, 1, board[1].Bib)
	assert.Equal(t, 3, board[2].Bib)
	assert.True(t, board[2].GapToBest.Equal(decimal.NewFromInt(15)))
}
