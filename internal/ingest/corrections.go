package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yourusername/apex-timing/internal/models"
)

// Correct applies a manual timestamp correction to a stored reading. The
// identity hash is regenerated so a resubmission of the old payload is no
// longer swallowed as a duplicate, and the stage cache is invalidated.
func (p *Pipeline) Correct(ctx context.Context, readingID uuid.UUID, newTimestamp time.Time) (*models.Reading, error) {
	reading, err := p.readings.GetByID(ctx, readingID)
	if err != nil {
		return nil, err
	}

	oldTs := reading.Timestamp
	oldHash := reading.IdentityHash

	reading.Timestamp = newTimestamp.UTC()
	reading.RefreshIdentityHash()
	p.recomputeElapsed(ctx, reading)

	if err := p.readings.UpdateCorrected(ctx, reading); err != nil {
		return nil, err
	}
	reading.ManuallyCorrected = true

	p.audit.LogManualCorrection(reading.ID, oldTs, reading.Timestamp, oldHash, reading.IdentityHash)
	if _, err := p.invalidator.Invalidate(ctx, reading.StageID); err != nil {
		p.logger.WithError(err).Warn("failed to invalidate cache after correction")
	}

	return reading, nil
}

// Discard soft-deletes a reading with a reason. The row stays in the log.
func (p *Pipeline) Discard(ctx context.Context, readingID uuid.UUID, reason string) error {
	return p.setDiscarded(ctx, readingID, true, &reason)
}

// Restore reverses a soft-delete.
func (p *Pipeline) Restore(ctx context.Context, readingID uuid.UUID) error {
	return p.setDiscarded(ctx, readingID, false, nil)
}

func (p *Pipeline) setDiscarded(ctx context.Context, readingID uuid.UUID, discarded bool, reason *string) error {
	reading, err := p.readings.GetByID(ctx, readingID)
	if err != nil {
		return err
	}

	if err := p.readings.SetDiscarded(ctx, readingID, discarded, reason); err != nil {
		return err
	}

	detail := ""
	if reason != nil {
		detail = *reason
	}
	p.audit.LogDiscard(readingID, discarded, detail)
	if _, err := p.invalidator.Invalidate(ctx, reading.StageID); err != nil {
		p.logger.WithError(err).Warn("failed to invalidate cache after discard change")
	}

	return nil
}

// recomputeElapsed refreshes the stored advisory elapsed time after a
// correction. Classification re-derives from raw timestamps regardless.
func (p *Pipeline) recomputeElapsed(ctx context.Context, reading *models.Reading) {
	switch reading.Kind {
	case models.KindExit:
		entry, err := p.readings.FindEntry(ctx, reading.StageID, reading.Bib, reading.Special, reading.Lap)
		if err != nil {
			reading.Elapsed = decimal.NullDecimal{}
			return
		}
		reading.Elapsed = decimal.NewNullDecimal(models.SecondsBetween(entry.Timestamp, reading.Timestamp))
	case models.KindPassage:
		passages, err := p.readings.ListPassages(ctx, reading.StageID, reading.Bib)
		if err != nil {
			return
		}
		var prev *models.Reading
		for _, other := range passages {
			if other.ID == reading.ID || !other.Timestamp.Before(reading.Timestamp) {
				continue
			}
			if prev == nil || other.Timestamp.After(prev.Timestamp) {
				prev = other
			}
		}
		if prev != nil {
			reading.Elapsed = decimal.NewNullDecimal(models.SecondsBetween(prev.Timestamp, reading.Timestamp))
			return
		}
		stage, err := p.stages.GetByID(ctx, reading.StageID)
		if err == nil && stage.StartTime != nil && reading.Timestamp.After(*stage.StartTime) {
			reading.Elapsed = decimal.NewNullDecimal(models.SecondsBetween(*stage.StartTime, reading.Timestamp))
		} else {
			reading.Elapsed = decimal.NullDecimal{}
		}
	}
}

// Unmatched lists EXIT readings without a resolved ENTRY plus readings whose
// bib has no registration, for the organizer review screen.
func (p *Pipeline) Unmatched(ctx context.Context, stageID uuid.UUID, regs []*models.Registration) ([]*models.Reading, error) {
	exits, err := p.readings.ListUnmatchedExits(ctx, stageID)
	if err != nil {
		return nil, err
	}

	known := make(map[int]bool, len(regs))
	for _, reg := range regs {
		known[reg.Bib] = true
	}

	all, err := p.readings.ListByStage(ctx, stageID)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(exits))
	out := make([]*models.Reading, 0, len(exits))
	for _, r := range exits {
		seen[r.ID] = true
		out = append(out, r)
	}
	for _, r := range all {
		if !known[r.Bib] && !seen[r.ID] {
			out = append(out, r)
		}
	}

	return out, nil
}
