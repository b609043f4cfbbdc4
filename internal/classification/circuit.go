package classification

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/yourusername/apex-timing/internal/models"
)

// fullStrategy rebuilds the classification from the complete reading log.
// It is the correctness reference and the fallback for every other path.
type fullStrategy struct{}

// Name implements Strategy.
func (s *fullStrategy) Name() string { return "full" }

// Compute implements Strategy.
func (s *fullStrategy) Compute(stage *models.Stage, regs []*models.Registration, readings []*models.Reading, _ *models.Classification, _ int) (*models.Classification, error) {
	switch stage.Format {
	case models.FormatCircuit:
		return computeCircuit(stage, regs, readings)
	case models.FormatEnduro:
		return computeEnduro(stage, regs, readings)
	default:
		return nil, models.ErrStageFormatMismatch
	}
}

// incrementalStrategy refreshes a single rider's row in the previous
// classification and re-ranks. It is only sound while the stage is RUNNING:
// before the flag no rider's status depends on another rider's lap count.
type incrementalStrategy struct {
	full *fullStrategy
}

// Name implements Strategy.
func (s *incrementalStrategy) Name() string { return "incremental" }

// Compute implements Strategy.
func (s *incrementalStrategy) Compute(stage *models.Stage, regs []*models.Registration, readings []*models.Reading, prev *models.Classification, changedBib int) (*models.Classification, error) {
	if stage.Format != models.FormatCircuit || stage.Status != models.StageRunning {
		return nil, errIncrementalUnusable
	}
	if prev == nil || changedBib == 0 {
		return nil, errIncrementalUnusable
	}

	var changedReg *models.Registration
	for _, reg := range regs {
		if reg.Bib == changedBib {
			changedReg = reg
			break
		}
	}
	if changedReg == nil {
		// Orphan bib: no registration row to update, ranking is unchanged.
		return prev, nil
	}

	rows := make([]*models.Result, 0, len(prev.Results)+1)
	replaced := false
	for _, row := range prev.Results {
		if row.Bib == changedBib {
			rows = append(rows, buildCircuitRow(stage, changedReg, passagesFor(readings, changedBib)))
			replaced = true
			continue
		}
		cp := *row
		rows = append(rows, &cp)
	}
	if !replaced {
		rows = append(rows, buildCircuitRow(stage, changedReg, passagesFor(readings, changedBib)))
	}

	cls := &models.Classification{StageID: stage.ID, Format: stage.Format, Results: rows}
	rankCircuit(stage, rows, leaderLapsAtFlag(stage, readings))
	return cls, nil
}

// computeCircuit derives the lap-count + elapsed-time ranking.
func computeCircuit(stage *models.Stage, regs []*models.Registration, readings []*models.Reading) (*models.Classification, error) {
	rows := make([]*models.Result, 0, len(regs))
	for _, reg := range regs {
		rows = append(rows, buildCircuitRow(stage, reg, passagesFor(readings, reg.Bib)))
	}

	rankCircuit(stage, rows, leaderLapsAtFlag(stage, readings))

	return &models.Classification{StageID: stage.ID, Format: stage.Format, Results: rows}, nil
}

// passagesFor returns one rider's scoring passages: non-discarded PASSAGE
// readings strictly after the start, in timestamp order. The crossing at the
// start line itself is the launch, not a completed lap.
func passagesFor(readings []*models.Reading, bib int) []*models.Reading {
	var out []*models.Reading
	for _, r := range readings {
		if r.Kind == models.KindPassage && r.Bib == bib {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func scoringPassages(stage *models.Stage, passages []*models.Reading) []*models.Reading {
	if stage.StartTime == nil {
		return nil
	}
	var out []*models.Reading
	for _, p := range passages {
		if p.Timestamp.After(*stage.StartTime) {
			out = append(out, p)
		}
	}
	return out
}

// buildCircuitRow computes one rider's laps and elapsed time from raw
// timestamps. Totals are never accumulated from stored per-lap deltas, so a
// manual correction to any passage stays consistent.
func buildCircuitRow(stage *models.Stage, reg *models.Registration, passages []*models.Reading) *models.Result {
	row := &models.Result{
		RegistrationID: reg.ID,
		Bib:            reg.Bib,
		Rider:          reg.Rider,
		Category:       reg.Category,
		Status:         models.StatusClassified,
	}

	scoring := scoringPassages(stage, passages)
	row.LapsCompleted = len(scoring)

	if len(scoring) > 0 {
		start := *stage.StartTime
		prev := start
		var best decimal.Decimal
		for i, p := range scoring {
			lap := models.SecondsBetween(prev, p.Timestamp)
			row.Laps = append(row.Laps, models.LapTime{Lap: i + 1, Seconds: lap})
			if i == 0 || lap.Cmp(best) < 0 {
				best = lap
			}
			prev = p.Timestamp
		}
		row.BestTime = decimal.NewNullDecimal(best)
		row.TotalElapsed = models.SecondsBetween(start, scoring[len(scoring)-1].Timestamp)
	}

	switch reg.Status {
	case models.RegistrationDisqualified:
		row.Status = models.StatusDisqualified
		row.StatusReason = reasonOf(reg)
	case models.RegistrationRetired:
		row.Status = models.StatusDidNotFinish
		row.StatusReason = reasonOf(reg)
	default:
		if len(scoring) == 0 {
			row.Status = models.StatusDidNotStart
		}
	}

	return row
}

// leaderLapsAtFlag counts the leader's completed laps at flag time; zero
// while no flag has been shown.
func leaderLapsAtFlag(stage *models.Stage, readings []*models.Reading) int {
	if stage.FlagTime == nil || stage.StartTime == nil {
		return 0
	}
	counts := make(map[int]int)
	leader := 0
	for _, r := range readings {
		if r.Kind != models.KindPassage {
			continue
		}
		if r.Timestamp.After(*stage.StartTime) && !r.Timestamp.After(*stage.FlagTime) {
			counts[r.Bib]++
			if counts[r.Bib] > leader {
				leader = counts[r.Bib]
			}
		}
	}
	return leader
}

// rankCircuit applies the countback rule, sorts and assigns positions and
// gaps. Ranking order: more laps first, then lower total elapsed, then bib
// for a stable deterministic order; zero-lap riders sort last.
func rankCircuit(stage *models.Stage, rows []*models.Result, flagLeaderLaps int) {
	// Countback: once the stage is past the flag, completion is judged by
	// lap count relative to the leader at flag time. Riders more than one
	// lap short of that count did not finish.
	if flagLeaderLaps > 0 && (stage.Status == models.StageFlagShown || stage.Status == models.StageFinished) {
		for _, row := range rows {
			if row.Status != models.StatusClassified {
				continue
			}
			if row.LapsCompleted < flagLeaderLaps-1 {
				row.Status = models.StatusDidNotFinish
				row.StatusReason = "outside countback margin"
			}
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if ra, rb := statusRank(a.Status), statusRank(b.Status); ra != rb {
			return ra < rb
		}
		if a.LapsCompleted != b.LapsCompleted {
			return a.LapsCompleted > b.LapsCompleted
		}
		if cmp := a.TotalElapsed.Cmp(b.TotalElapsed); cmp != 0 {
			return cmp < 0
		}
		return a.Bib < b.Bib
	})

	assignPositionsAndGaps(rows, func(leader, row *models.Result) decimal.NullDecimal {
		if row.LapsCompleted == leader.LapsCompleted {
			return decimal.NewNullDecimal(row.TotalElapsed.Sub(leader.TotalElapsed))
		}
		// Lapped riders carry no time gap; the lap deficit is the gap.
		return decimal.NullDecimal{}
	})
}

// statusRank orders result blocks: ranked riders first, then DNF, DNS, DSQ.
func statusRank(s models.ResultStatus) int {
	switch s {
	case models.StatusClassified:
		return 0
	case models.StatusDidNotFinish:
		return 1
	case models.StatusDidNotStart:
		return 2
	default:
		return 3
	}
}

// assignPositionsAndGaps numbers classified rows overall and per category
// and computes gaps to the overall leader.
func assignPositionsAndGaps(rows []*models.Result, gap func(leader, row *models.Result) decimal.NullDecimal) {
	var leader *models.Result
	overall := 0
	perCategory := make(map[string]int)

	for _, row := range rows {
		if row.Status != models.StatusClassified {
			row.Position = 0
			row.PositionOverall = 0
			row.GapToLeader = decimal.NullDecimal{}
			continue
		}
		overall++
		row.PositionOverall = overall
		perCategory[row.Category]++
		row.Position = perCategory[row.Category]

		if leader == nil {
			leader = row
			row.GapToLeader = decimal.NewNullDecimal(decimal.Zero)
			continue
		}
		row.GapToLeader = gap(leader, row)
	}
}

// reasonOf flattens the administrative status reason for display.
func reasonOf(reg *models.Registration) string {
	if reg.StatusReason != nil {
		return *reg.StatusReason
	}
	return ""
}
