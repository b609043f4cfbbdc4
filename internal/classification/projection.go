package classification

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yourusername/apex-timing/internal/models"
)

// Projection returns the lightweight live-timing rows for a stage. It rides
// on the version-tagged classification cache, so the common case after a
// broadcast is a cache hit plus a cheap reshape.
func (e *Engine) Projection(ctx context.Context, stageID uuid.UUID) ([]*models.LiveRow, error) {
	cls, err := e.Classification(ctx, stageID, Filters{IncludeDetail: true})
	if err != nil {
		return nil, err
	}

	var inTrack map[int]bool
	if cls.Format == models.FormatEnduro {
		readings, err := e.readings.ListByStage(ctx, stageID)
		if err != nil {
			return nil, err
		}
		inTrack = ridersInSpecial(readings)
	}

	stage, err := e.stages.GetByID(ctx, stageID)
	if err != nil {
		return nil, err
	}
	running := stage.Status == models.StageRunning || stage.Status == models.StageFlagShown

	rows := make([]*models.LiveRow, 0, len(cls.Results))
	for _, res := range cls.Results {
		row := &models.LiveRow{
			Bib:         res.Bib,
			Rider:       res.Rider,
			Position:    res.PositionOverall,
			Laps:        res.LapsCompleted,
			GapToLeader: res.GapToLeader,
			BestLap:     res.BestTime,
			LastLap:     lastSplit(res),
		}
		switch cls.Format {
		case models.FormatEnduro:
			row.InTrack = inTrack[res.Bib]
		default:
			row.InTrack = running && res.LapsCompleted > 0 && res.Status == models.StatusClassified
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// lastSplit is the rider's most recent completed lap or special time.
func lastSplit(res *models.Result) decimal.NullDecimal {
	if n := len(res.Laps); n > 0 {
		return decimal.NewNullDecimal(res.Laps[n-1].Seconds)
	}
	for i := len(res.Specials) - 1; i >= 0; i-- {
		if res.Specials[i].Seconds.Valid {
			return res.Specials[i].Seconds
		}
	}
	return decimal.NullDecimal{}
}

// ridersInSpecial reports the bibs whose latest timing event is an ENTRY,
// meaning they are currently on a timed segment.
func ridersInSpecial(readings []*models.Reading) map[int]bool {
	last := make(map[int]*models.Reading)
	for _, r := range readings {
		if r.Kind == models.KindPassage {
			continue
		}
		if prev, ok := last[r.Bib]; !ok || r.Timestamp.After(prev.Timestamp) {
			last[r.Bib] = r
		}
	}
	out := make(map[int]bool, len(last))
	for bib, r := range last {
		out[bib] = r.Kind == models.KindEntry
	}
	return out
}
