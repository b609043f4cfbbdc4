package classification

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yourusername/apex-timing/internal/models"
)

// Compare builds a head-to-head special-by-special table for two bibs on an
// enduro stage. A special either rider is missing contributes no delta; a
// zero total delta is reported as a tie, never as an error.
func (e *Engine) Compare(ctx context.Context, stageID uuid.UUID, bibA, bibB int) (*models.Comparison, error) {
	stage, err := e.stages.GetByID(ctx, stageID)
	if err != nil {
		return nil, err
	}
	if stage.Format != models.FormatEnduro {
		return nil, models.ErrStageFormatMismatch
	}
	cfg, err := stage.EnduroConfig()
	if err != nil {
		return nil, err
	}

	if _, err := e.regs.GetByBib(ctx, stageID, bibA); err != nil {
		return nil, err
	}
	if _, err := e.regs.GetByBib(ctx, stageID, bibB); err != nil {
		return nil, err
	}

	readings, err := e.readings.ListByStage(ctx, stageID)
	if err != nil {
		return nil, err
	}
	timesA, _ := pairSpecials(readings, bibA)
	timesB, _ := pairSpecials(readings, bibB)

	cmp := &models.Comparison{StageID: stageID, BibA: bibA, BibB: bibB, TotalDelta: decimal.Zero}
	for lap := 1; lap <= cfg.Laps; lap++ {
		for special := 1; special <= cfg.SpecialsPerLap; special++ {
			key := specialKey{lap, special}
			line := models.ComparisonLine{Lap: lap, Special: special}
			a, okA := timesA[key]
			b, okB := timesB[key]
			if okA {
				line.SecondsA = decimal.NewNullDecimal(a)
			}
			if okB {
				line.SecondsB = decimal.NewNullDecimal(b)
			}
			if okA && okB {
				delta := a.Sub(b)
				line.Delta = decimal.NewNullDecimal(delta)
				cmp.TotalDelta = cmp.TotalDelta.Add(delta)
			}
			cmp.Lines = append(cmp.Lines, line)
		}
	}
	cmp.Tie = cmp.TotalDelta.IsZero()

	return cmp, nil
}
