// Package ingest implements the reading-ingestion pipeline: validation,
// device binding, two-layer deduplication, format-aware routing and elapsed
// time computation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/apex-timing/internal/config"
	applogger "github.com/yourusername/apex-timing/internal/logger"
	"github.com/yourusername/apex-timing/internal/metrics"
	"github.com/yourusername/apex-timing/internal/models"
	"github.com/yourusername/apex-timing/internal/repository"
)

// CacheInvalidator bumps a stage's cache-version counter so cached
// classifications stop being served. Implemented by the classification
// engine.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, stageID uuid.UUID) (uint64, error)
}

// Notifier receives fire-and-forget incremental updates for live views.
// Implementations must not block; delivery is best-effort.
type Notifier interface {
	Publish(stageID uuid.UUID, payload interface{})
}

// Update is the incremental payload emitted after every accepted reading.
type Update struct {
	StageID   uuid.UUID           `json:"stage_id"`
	Bib       int                 `json:"bib"`
	Kind      models.ReadingKind  `json:"kind"`
	Lap       int                 `json:"lap,omitempty"`
	Special   int                 `json:"special,omitempty"`
	Elapsed   decimal.NullDecimal `json:"elapsed_seconds"`
	Timestamp time.Time           `json:"timestamp"`
	Version   uint64              `json:"version"`
}

// Pipeline validates, deduplicates, routes and persists readings. It is safe
// for concurrent use; the reading log is append-only and keyed, so distinct
// bibs never contend.
type Pipeline struct {
	readings repository.ReadingRepository
	stages   repository.StageRepository
	devices  repository.DeviceRepository

	validate    *validator.Validate
	limiter     *deviceLimiter
	tolerance   time.Duration
	persistWait time.Duration

	invalidator CacheInvalidator
	notifier    Notifier
	audit       *applogger.AuditLogger
	logger      *logrus.Logger
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(
	repos *repository.Repositories,
	cfg config.IngestionConfig,
	invalidator CacheInvalidator,
	notifier Notifier,
	audit *applogger.AuditLogger,
	log *logrus.Logger,
) *Pipeline {
	tolerance := cfg.ToleranceWindow
	if tolerance <= 0 {
		tolerance = time.Second
	}
	persistWait := cfg.PersistTimeout
	if persistWait <= 0 {
		persistWait = 3 * time.Second
	}

	return &Pipeline{
		readings:    repos.Reading,
		stages:      repos.Stage,
		devices:     repos.Device,
		validate:    validator.New(),
		limiter:     newDeviceLimiter(cfg.DeviceRateLimit, cfg.DeviceBurst),
		tolerance:   tolerance,
		persistWait: persistWait,
		invalidator: invalidator,
		notifier:    notifier,
		audit:       audit,
		logger:      log,
	}
}

// Accept processes a single reading submission and returns its outcome
// synchronously. No partial writes: a rejected reading leaves no row.
func (p *Pipeline) Accept(ctx context.Context, sub *models.ReadingSubmission) models.IngestResult {
	started := time.Now()
	defer func() {
		metrics.IngestLatency.Observe(time.Since(started).Seconds())
	}()

	if err := p.validate.Struct(sub); err != nil {
		return p.reject(sub, models.ReasonValidation, fmt.Sprintf("malformed payload: %v", err), false)
	}

	stage, err := p.stages.GetByID(ctx, sub.StageID)
	if errors.Is(err, models.ErrNotFound) {
		return p.reject(sub, models.ReasonNotFound, "unknown stage", false)
	}
	if err != nil {
		return p.reject(sub, models.ReasonStorage, err.Error(), true)
	}
	if !stage.AcceptsReadings(sub.Backfill) {
		return p.reject(sub, models.ReasonStageState,
			fmt.Sprintf("stage is %s", stage.Status), false)
	}

	device, err := p.devices.GetByID(ctx, sub.DeviceID)
	if errors.Is(err, models.ErrNotFound) {
		return p.reject(sub, models.ReasonDevice, "device not registered", false)
	}
	if err != nil {
		return p.reject(sub, models.ReasonStorage, err.Error(), true)
	}
	if !device.Active {
		return p.reject(sub, models.ReasonDevice, "device inactive", false)
	}
	if !device.BoundTo(sub.StageID) {
		return p.reject(sub, models.ReasonDevice, "device not bound to this stage", false)
	}
	if !p.limiter.allow(sub.DeviceID) {
		return p.reject(sub, models.ReasonDevice, "device rate limit exceeded", true)
	}

	reading, res := p.route(ctx, stage, sub)
	if res != nil {
		return *res
	}

	persistCtx, cancel := context.WithTimeout(ctx, p.persistWait)
	defer cancel()
	if err := p.readings.Create(persistCtx, reading); err != nil {
		if errors.Is(err, models.ErrDuplicateKey) {
			// Concurrent retry raced us past the dedup check; the row that
			// won is the accepted one.
			metrics.ReadingsDuplicateTotal.WithLabelValues("identity").Inc()
			return models.IngestResult{Outcome: models.OutcomeDuplicate}
		}
		return p.reject(sub, models.ReasonStorage, err.Error(), true)
	}

	p.afterAccept(ctx, stage, reading)

	return models.IngestResult{Outcome: models.OutcomeAccepted, ReadingID: &reading.ID}
}

// AcceptBatch processes readings independently in arrival order. A failing
// item never aborts the rest, and item N never waits on item N-1's
// notification delivery.
func (p *Pipeline) AcceptBatch(ctx context.Context, subs []models.ReadingSubmission) *models.BatchReport {
	report := &models.BatchReport{Received: len(subs)}
	metrics.BatchSize.Observe(float64(len(subs)))

	for i := range subs {
		report.Add(p.Accept(ctx, &subs[i]))
	}

	return report
}

// route applies the two dedup layers and the format-specific elapsed-time
// computation, returning either a reading ready to persist or an outcome.
func (p *Pipeline) route(ctx context.Context, stage *models.Stage, sub *models.ReadingSubmission) (*models.Reading, *models.IngestResult) {
	special, lap := sub.Special, sub.Lap

	switch stage.Format {
	case models.FormatCircuit:
		if sub.Kind != models.KindPassage {
			res := p.reject(sub, models.ReasonValidation, "circuit stages accept only PASSAGE readings", false)
			return nil, &res
		}
		special, lap = 0, 0 // lap derived below
	case models.FormatEnduro:
		if sub.Kind == models.KindPassage {
			res := p.reject(sub, models.ReasonValidation, "enduro stages accept only ENTRY and EXIT readings", false)
			return nil, &res
		}
		if special < 1 || lap < 1 {
			res := p.reject(sub, models.ReasonValidation, "enduro readings require special and lap numbers", false)
			return nil, &res
		}
	}

	hash := models.ComputeIdentityHash(sub.StageID, sub.Bib, sub.Kind, special, lap, sub.Timestamp)

	// Layer 1: exact identity, catches collector retries.
	if _, err := p.readings.GetByIdentityHash(ctx, sub.StageID, hash); err == nil {
		metrics.ReadingsDuplicateTotal.WithLabelValues("identity").Inc()
		dup := models.IngestResult{Outcome: models.OutcomeDuplicate}
		return nil, &dup
	} else if !errors.Is(err, models.ErrNotFound) {
		res := p.reject(sub, models.ReasonStorage, err.Error(), true)
		return nil, &res
	}

	// Layer 2: tolerance window, catches sensor and RF bounce. The rejected
	// near-duplicate is never persisted; the audit log keeps the trace.
	near, err := p.readings.FindNear(ctx, sub.StageID, sub.Bib, sub.Kind, special, lap, sub.Timestamp, p.tolerance)
	if err != nil {
		res := p.reject(sub, models.ReasonStorage, err.Error(), true)
		return nil, &res
	}
	if len(near) > 0 {
		metrics.ReadingsDuplicateTotal.WithLabelValues("tolerance").Inc()
		p.audit.LogNearDuplicate(sub.StageID, sub.DeviceID, sub.Bib, string(sub.Kind), sub.Timestamp, near[0].Timestamp)
		dup := models.IngestResult{Outcome: models.OutcomeDuplicate}
		return nil, &dup
	}

	reading := &models.Reading{
		ID:           uuid.New(),
		StageID:      sub.StageID,
		Bib:          sub.Bib,
		Kind:         sub.Kind,
		Timestamp:    sub.Timestamp.UTC(),
		Special:      special,
		Lap:          lap,
		DeviceID:     sub.DeviceID,
		IdentityHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	switch sub.Kind {
	case models.KindPassage:
		if res := p.routePassage(ctx, stage, reading); res != nil {
			return nil, res
		}
	case models.KindEntry:
		// ENTRY marks the special start; elapsed stays null.
	case models.KindExit:
		p.routeExit(ctx, reading)
	}

	return reading, nil
}

// routePassage derives the lap number and lap-elapsed time from the rider's
// previous passage, or from the stage start when this is the first crossing.
func (p *Pipeline) routePassage(ctx context.Context, stage *models.Stage, reading *models.Reading) *models.IngestResult {
	last, err := p.readings.LastPassage(ctx, reading.StageID, reading.Bib)
	switch {
	case err == nil:
		reading.Lap = last.Lap + 1
		reading.Elapsed = decimal.NewNullDecimal(models.SecondsBetween(last.Timestamp, reading.Timestamp))
	case errors.Is(err, models.ErrNotFound):
		reading.Lap = 1
		if stage.StartTime != nil && reading.Timestamp.After(*stage.StartTime) {
			reading.Elapsed = decimal.NewNullDecimal(models.SecondsBetween(*stage.StartTime, reading.Timestamp))
		}
	default:
		res := models.IngestResult{
			Outcome: models.OutcomeRejected, Reason: models.ReasonStorage,
			Detail: err.Error(), Retryable: true,
		}
		return &res
	}
	return nil
}

// routeExit resolves the matching ENTRY. Unmatched EXITs are retained with a
// null elapsed time and flagged for organizer review.
func (p *Pipeline) routeExit(ctx context.Context, reading *models.Reading) {
	entry, err := p.readings.FindEntry(ctx, reading.StageID, reading.Bib, reading.Special, reading.Lap)
	if err == nil {
		reading.Elapsed = decimal.NewNullDecimal(models.SecondsBetween(entry.Timestamp, reading.Timestamp))
		return
	}
	p.audit.LogUnmatchedExit(reading.StageID, reading.ID, reading.Bib, reading.Special, reading.Lap)
}

// afterAccept runs the post-persist side effects: device counters, cache
// invalidation and the live notification. The notification is emitted on a
// separate goroutine and never blocks or fails the ingestion response.
func (p *Pipeline) afterAccept(ctx context.Context, stage *models.Stage, reading *models.Reading) {
	metrics.ReadingsAcceptedTotal.Inc()

	if err := p.devices.RecordSeen(ctx, reading.DeviceID, true, reading.Timestamp); err != nil {
		p.logger.WithError(err).WithField("device_id", reading.DeviceID).
			Warn("failed to bump device counters")
	}

	version, err := p.invalidator.Invalidate(ctx, stage.ID)
	if err != nil {
		p.logger.WithError(err).WithField("stage_id", stage.ID).
			Warn("failed to bump stage cache version")
	}

	if p.notifier != nil {
		update := Update{
			StageID:   stage.ID,
			Bib:       reading.Bib,
			Kind:      reading.Kind,
			Lap:       reading.Lap,
			Special:   reading.Special,
			Elapsed:   reading.Elapsed,
			Timestamp: reading.Timestamp,
			Version:   version,
		}
		go func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.WithField("panic", r).Error("notifier panicked")
				}
			}()
			p.notifier.Publish(stage.ID, update)
		}()
	}
}

func (p *Pipeline) reject(sub *models.ReadingSubmission, reason models.RejectReason, detail string, retryable bool) models.IngestResult {
	metrics.ReadingsRejectedTotal.WithLabelValues(string(reason)).Inc()
	p.audit.LogReadingRejected(sub.StageID, sub.DeviceID, sub.Bib, string(reason), detail)
	return models.IngestResult{
		Outcome:   models.OutcomeRejected,
		Reason:    reason,
		Detail:    detail,
		Retryable: retryable,
	}
}
