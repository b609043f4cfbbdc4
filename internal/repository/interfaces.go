package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/apex-timing/internal/models"
)

// ReadingRepository is the append-mostly reading log. Readings are never
// physically deleted; soft-discard and manual correction are the only
// mutations after creation.
type ReadingRepository interface {
	Create(ctx context.Context, reading *models.Reading) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Reading, error)
	// GetByIdentityHash matches only non-discarded rows; a discarded reading
	// does not block resubmission of the same payload.
	GetByIdentityHash(ctx context.Context, stageID uuid.UUID, hash string) (*models.Reading, error)
	// FindNear returns accepted readings with the same composite identity
	// within the tolerance window around ts. For PASSAGE readings the lap
	// and special are derived, so only (stage, bib, kind) participate.
	FindNear(ctx context.Context, stageID uuid.UUID, bib int, kind models.ReadingKind, special, lap int, ts time.Time, window time.Duration) ([]*models.Reading, error)
	LastPassage(ctx context.Context, stageID uuid.UUID, bib int) (*models.Reading, error)
	FindEntry(ctx context.Context, stageID uuid.UUID, bib, special, lap int) (*models.Reading, error)
	// ListByStage returns all non-discarded readings ordered by timestamp.
	ListByStage(ctx context.Context, stageID uuid.UUID) ([]*models.Reading, error)
	ListPassages(ctx context.Context, stageID uuid.UUID, bib int) ([]*models.Reading, error)
	// ListUnmatchedExits surfaces EXIT rows without an elapsed time for
	// organizer review.
	ListUnmatchedExits(ctx context.Context, stageID uuid.UUID) ([]*models.Reading, error)
	SetDiscarded(ctx context.Context, id uuid.UUID, discarded bool, reason *string) error
	// UpdateCorrected persists a manual correction: new timestamp, new
	// identity hash, manually_corrected flag.
	UpdateCorrected(ctx context.Context, reading *models.Reading) error
}

// StageRepository reads stage rows and mutates the engine-owned fields:
// status, start/flag time and the cache version counter.
type StageRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Stage, error)
	ListByStatus(ctx context.Context, status models.StageStatus) ([]*models.Stage, error)
	UpdateState(ctx context.Context, id uuid.UUID, status models.StageStatus, startTime, flagTime *time.Time) error
	// BumpCacheVersion atomically increments and returns the per-stage
	// version counter used for result-cache invalidation.
	BumpCacheVersion(ctx context.Context, id uuid.UUID) (uint64, error)
	GetCacheVersion(ctx context.Context, id uuid.UUID) (uint64, error)
}

// RegistrationRepository resolves bib numbers; read-only to the engine.
type RegistrationRepository interface {
	ListByStage(ctx context.Context, stageID uuid.UUID) ([]*models.Registration, error)
	GetByBib(ctx context.Context, stageID uuid.UUID, bib int) (*models.Registration, error)
}

// DeviceRepository looks up collector devices and maintains pass counters.
type DeviceRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error)
	RecordSeen(ctx context.Context, id uuid.UUID, accepted bool, at time.Time) error
}
