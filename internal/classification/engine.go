package classification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"github.com/yourusername/apex-timing/internal/metrics"
	"github.com/yourusername/apex-timing/internal/models"
	"github.com/yourusername/apex-timing/internal/repository"
)

// ErrComputationAborted is returned when the owning stage was cancelled
// while a recompute was in flight; the result is discarded, not cached.
var ErrComputationAborted = errors.New("classification aborted: stage cancelled during computation")

// errIncrementalUnusable signals that the incremental strategy cannot run
// from the available state and the caller must fall back to a full
// recompute. Never surfaced outside the engine.
var errIncrementalUnusable = errors.New("incremental state absent or stale")

// Strategy computes a stage classification as a pure function of its
// inputs. Every implementation shares one correctness contract: the result
// must equal a full recompute from the reading log.
type Strategy interface {
	Name() string
	// Compute derives the classification. prev is the previously cached
	// classification (nil when absent) and changedBib the rider affected by
	// the latest accepted reading; full implementations ignore both.
	Compute(stage *models.Stage, regs []*models.Registration, readings []*models.Reading, prev *models.Classification, changedBib int) (*models.Classification, error)
}

// Filters narrows a classification request.
type Filters struct {
	Category            string
	IncludeDisqualified bool
	IncludeDetail       bool
}

// Engine serves classifications for both race formats with single-flight
// recomputation and version-tagged caching.
type Engine struct {
	readings repository.ReadingRepository
	stages   repository.StageRepository
	regs     repository.RegistrationRepository
	cache    *Cache
	group    singleflight.Group
	logger   *logrus.Logger

	full        Strategy
	incremental Strategy
}

// NewEngine creates a classification engine.
func NewEngine(repos *repository.Repositories, resultCache *Cache, log *logrus.Logger) *Engine {
	full := &fullStrategy{}
	return &Engine{
		readings:    repos.Reading,
		stages:      repos.Stage,
		regs:        repos.Registration,
		cache:       resultCache,
		logger:      log,
		full:        full,
		incremental: &incrementalStrategy{full: full},
	}
}

// Classification returns the current ranking for a stage, serving a fresh
// cache entry when its version tag matches the stage counter and otherwise
// recomputing under the per-stage single-flight guard. Calls already in
// flight before an invalidation may return the pre-update snapshot; calls
// initiated afterwards always reflect it.
func (e *Engine) Classification(ctx context.Context, stageID uuid.UUID, filters Filters) (*models.Classification, error) {
	version, err := e.stages.GetCacheVersion(ctx, stageID)
	if err != nil {
		return nil, err
	}

	if entry := e.cache.Get(stageID); entry != nil && entry.Version == version {
		return applyFilters(entry, filters), nil
	}

	cls, err := e.recompute(ctx, stageID)
	if err != nil {
		return nil, err
	}
	return applyFilters(cls, filters), nil
}

// RecalculateAll discards the cache entry and recomputes unconditionally
// from the reading log. Used after bulk manual corrections.
func (e *Engine) RecalculateAll(ctx context.Context, stageID uuid.UUID) (*models.Classification, error) {
	e.cache.Drop(stageID)
	if _, err := e.Invalidate(ctx, stageID); err != nil {
		return nil, err
	}
	return e.recompute(ctx, stageID)
}

// Invalidate bumps the stage's version counter. The now version-stale cache
// entry is kept: the version check in Classification prevents serving it,
// and ApplyUpdate can still use it as the base for a single-row rewrite.
// The ingestion pipeline and race control call this on every change that
// affects classification.
func (e *Engine) Invalidate(ctx context.Context, stageID uuid.UUID) (uint64, error) {
	return e.stages.BumpCacheVersion(ctx, stageID)
}

// DropCache removes a stage's cache entry without touching the version
// counter, forcing the next request through a full recompute.
func (e *Engine) DropCache(stageID uuid.UUID) {
	e.cache.Drop(stageID)
}

// ApplyUpdate refreshes the cached classification after one accepted
// reading, updating only the affected rider's row when the incremental
// state lines up and falling back to a full recompute otherwise. A full
// recompute is always correctness-equivalent.
func (e *Engine) ApplyUpdate(ctx context.Context, stageID uuid.UUID, bib int) (*models.Classification, error) {
	result, err, _ := e.group.Do(stageID.String(), func() (interface{}, error) {
		return e.compute(ctx, stageID, e.incremental, bib)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Classification), nil
}

// recompute runs a full computation under the single-flight guard;
// concurrent callers share the in-flight result.
func (e *Engine) recompute(ctx context.Context, stageID uuid.UUID) (*models.Classification, error) {
	result, err, _ := e.group.Do(stageID.String(), func() (interface{}, error) {
		return e.compute(ctx, stageID, e.full, 0)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Classification), nil
}

func (e *Engine) compute(ctx context.Context, stageID uuid.UUID, strat Strategy, changedBib int) (*models.Classification, error) {
	started := time.Now()
	defer func() {
		metrics.RecomputeDuration.Observe(time.Since(started).Seconds())
	}()
	metrics.RecomputesTotal.Inc()

	version, err := e.stages.GetCacheVersion(ctx, stageID)
	if err != nil {
		return nil, err
	}
	stage, err := e.stages.GetByID(ctx, stageID)
	if err != nil {
		return nil, err
	}
	wasCancelled := stage.Status == models.StageCancelled

	regs, err := e.regs.ListByStage(ctx, stageID)
	if err != nil {
		return nil, err
	}
	readings, err := e.readings.ListByStage(ctx, stageID)
	if err != nil {
		return nil, err
	}

	prev := e.cache.Get(stageID)
	// A single-row rewrite is sound only against the snapshot the latest
	// reading invalidated; an older one misses intermediate readings.
	if prev != nil && prev.Version+1 != version {
		prev = nil
	}
	cls, err := strat.Compute(stage, regs, readings, prev, changedBib)
	if errors.Is(err, errIncrementalUnusable) {
		e.logger.WithField("stage_id", stageID).Debug("incremental state unusable, running full recompute")
		cls, err = e.full.Compute(stage, regs, readings, nil, 0)
	}
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A cancellation that landed mid-computation discards the result.
	current, err := e.stages.GetByID(ctx, stageID)
	if err != nil {
		return nil, err
	}
	if !wasCancelled && current.Status == models.StageCancelled {
		metrics.RecomputesAbortedTotal.Inc()
		return nil, ErrComputationAborted
	}

	cls.StageID = stageID
	cls.Format = stage.Format
	cls.Version = version
	cls.ComputedAt = time.Now().UTC()

	if current.Status != models.StageCancelled {
		e.cache.Put(cls)
	}

	return cls, nil
}

// applyFilters narrows a cached classification without mutating it.
func applyFilters(cls *models.Classification, filters Filters) *models.Classification {
	out := &models.Classification{
		StageID:    cls.StageID,
		Format:     cls.Format,
		Version:    cls.Version,
		ComputedAt: cls.ComputedAt,
	}

	for _, row := range cls.Results {
		if filters.Category != "" && row.Category != filters.Category {
			continue
		}
		if !filters.IncludeDisqualified && row.Status == models.StatusDisqualified {
			continue
		}
		cp := *row
		if !filters.IncludeDetail {
			cp.Laps = nil
			cp.Specials = nil
		}
		out.Results = append(out.Results, &cp)
	}

	return out
}
