package classification

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yourusername/apex-timing/internal/models"
)

// specialKey addresses one timed segment attempt.
type specialKey struct {
	lap     int
	special int
}

// computeEnduro derives the summed special-time ranking. Every special a
// rider misses once the flag is out is replaced by the configured fixed
// penalty; while the stage is still running an un-run special simply does
// not score yet.
func computeEnduro(stage *models.Stage, regs []*models.Registration, readings []*models.Reading) (*models.Classification, error) {
	cfg, err := stage.EnduroConfig()
	if err != nil {
		return nil, err
	}

	rows := make([]*models.Result, 0, len(regs))
	for _, reg := range regs {
		rows = append(rows, buildEnduroRow(stage, cfg, reg, readings))
	}

	rankEnduro(rows)

	return &models.Classification{StageID: stage.ID, Format: stage.Format, Results: rows}, nil
}

// buildEnduroRow pairs a rider's ENTRY/EXIT readings per (lap, special) and
// folds them into totals.
func buildEnduroRow(stage *models.Stage, cfg *models.EnduroConfig, reg *models.Registration, readings []*models.Reading) *models.Result {
	row := &models.Result{
		RegistrationID: reg.ID,
		Bib:            reg.Bib,
		Rider:          reg.Rider,
		Category:       reg.Category,
		Status:         models.StatusClassified,
	}

	times, sawAny := pairSpecials(readings, reg.Bib)
	penaltyEach := decimal.New(int64(cfg.PenaltySeconds), 0)
	applyPenalties := stage.Status == models.StageFlagShown || stage.Status == models.StageFinished

	total := decimal.Zero
	penaltyTotal := decimal.Zero
	var best decimal.NullDecimal

	for lap := 1; lap <= cfg.Laps; lap++ {
		scoring := !(cfg.ReconLap && lap == 1)
		lapDone := false
		for special := 1; special <= cfg.SpecialsPerLap; special++ {
			st := models.SpecialTime{Lap: lap, Special: special, Scoring: scoring}
			if secs, ok := times[specialKey{lap, special}]; ok {
				st.Seconds = decimal.NewNullDecimal(secs)
				lapDone = true
				if scoring {
					total = total.Add(secs)
					if !best.Valid || secs.Cmp(best.Decimal) < 0 {
						best = decimal.NewNullDecimal(secs)
					}
				}
			} else if scoring && applyPenalties {
				st.Penalised = true
				total = total.Add(penaltyEach)
				penaltyTotal = penaltyTotal.Add(penaltyEach)
			}
			row.Specials = append(row.Specials, st)
		}
		if lapDone {
			row.LapsCompleted = lap
		}
	}

	row.TotalElapsed = total
	row.PenaltySeconds = penaltyTotal
	row.BestTime = best

	switch reg.Status {
	case models.RegistrationDisqualified:
		row.Status = models.StatusDisqualified
		row.StatusReason = reasonOf(reg)
	case models.RegistrationRetired:
		row.Status = models.StatusDidNotFinish
		row.StatusReason = reasonOf(reg)
	default:
		if !sawAny {
			row.Status = models.StatusDidNotStart
		}
	}

	return row
}

// pairSpecials matches one rider's ENTRY/EXIT readings by (lap, special):
// earliest entry, earliest exit after it. Unmatched exits were already
// flagged at ingestion and never score here.
func pairSpecials(readings []*models.Reading, bib int) (map[specialKey]decimal.Decimal, bool) {
	entries := make(map[specialKey]*models.Reading)
	exits := make(map[specialKey]*models.Reading)
	sawAny := false

	for _, r := range readings {
		if r.Bib != bib || r.Kind == models.KindPassage {
			continue
		}
		sawAny = true
		key := specialKey{r.Lap, r.Special}
		switch r.Kind {
		case models.KindEntry:
			if prev, ok := entries[key]; !ok || r.Timestamp.Before(prev.Timestamp) {
				entries[key] = r
			}
		case models.KindExit:
			if prev, ok := exits[key]; !ok || r.Timestamp.Before(prev.Timestamp) {
				exits[key] = r
			}
		}
	}

	times := make(map[specialKey]decimal.Decimal, len(exits))
	for key, exit := range exits {
		entry, ok := entries[key]
		if !ok || !exit.Timestamp.After(entry.Timestamp) {
			continue
		}
		times[key] = models.SecondsBetween(entry.Timestamp, exit.Timestamp)
	}
	return times, sawAny
}

// rankEnduro sorts ascending by summed time among classified riders, ties
// broken by bib for determinism.
func rankEnduro(rows []*models.Result) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if ra, rb := statusRank(a.Status), statusRank(b.Status); ra != rb {
			return ra < rb
		}
		if cmp := a.TotalElapsed.Cmp(b.TotalElapsed); cmp != 0 {
			return cmp < 0
		}
		return a.Bib < b.Bib
	})

	assignPositionsAndGaps(rows, func(leader, row *models.Result) decimal.NullDecimal {
		return decimal.NewNullDecimal(row.TotalElapsed.Sub(leader.TotalElapsed))
	})
}

// SpecialLeaderboard ranks every rider's time through one (lap, special)
// segment, fastest first. Riders without a completed pair do not appear.
func (e *Engine) SpecialLeaderboard(ctx context.Context, stageID uuid.UUID, lap, special int) ([]*models.SpecialRank, error) {
	stage, err := e.stages.GetByID(ctx, stageID)
	if err != nil {
		return nil, err
	}
	if stage.Format != models.FormatEnduro {
		return nil, models.ErrStageFormatMismatch
	}
	regs, err := e.regs.ListByStage(ctx, stageID)
	if err != nil {
		return nil, err
	}
	readings, err := e.readings.ListByStage(ctx, stageID)
	if err != nil {
		return nil, err
	}
	return specialLeaderboard(regs, readings, lap, special), nil
}

func specialLeaderboard(regs []*models.Registration, readings []*models.Reading, lap, special int) []*models.SpecialRank {
	key := specialKey{lap, special}
	var board []*models.SpecialRank
	for _, reg := range regs {
		times, _ := pairSpecials(readings, reg.Bib)
		secs, ok := times[key]
		if !ok {
			continue
		}
		board = append(board, &models.SpecialRank{Bib: reg.Bib, Rider: reg.Rider, Seconds: secs})
	}

	sort.Slice(board, func(i, j int) bool {
		if cmp := board[i].Seconds.Cmp(board[j].Seconds); cmp != 0 {
			return cmp < 0
		}
		return board[i].Bib < board[j].Bib
	})
	for i, rank := range board {
		rank.Position = i + 1
		rank.GapToBest = rank.Seconds.Sub(board[0].Seconds)
	}
	return board
}
