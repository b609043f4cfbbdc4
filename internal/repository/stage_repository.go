package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/yourusername/apex-timing/internal/database"
	"github.com/yourusername/apex-timing/internal/models"
)

const errScanStage = "failed to scan stage: %w"

const stageColumns = `id, name, format, status, start_time, flag_time, config, cache_version, created_at, updated_at`

// PostgresStageRepository implements StageRepository for PostgreSQL
type PostgresStageRepository struct {
	db *database.DB
}

// NewPostgresStageRepository creates a new stage repository
func NewPostgresStageRepository(db *database.DB) StageRepository {
	return &PostgresStageRepository{db: db}
}

// GetByID retrieves a stage by ID
func (r *PostgresStageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM stages WHERE id = $1`

	stage := &models.Stage{}
	err := r.db.GetPool().QueryRow(ctx, query, id).Scan(
		&stage.ID, &stage.Name, &stage.Format, &stage.Status, &stage.StartTime,
		&stage.FlagTime, &stage.Config, &stage.CacheVersion, &stage.CreatedAt, &stage.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf(errScanStage, err)
	}

	return stage, nil
}

// ListByStatus retrieves stages in a given lifecycle state
func (r *PostgresStageRepository) ListByStatus(ctx context.Context, status models.StageStatus) ([]*models.Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM stages WHERE status = $1 ORDER BY created_at ASC`

	rows, err := r.db.GetPool().Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages by status: %w", err)
	}
	defer rows.Close()

	var stages []*models.Stage
	for rows.Next() {
		stage := &models.Stage{}
		err := rows.Scan(
			&stage.ID, &stage.Name, &stage.Format, &stage.Status, &stage.StartTime,
			&stage.FlagTime, &stage.Config, &stage.CacheVersion, &stage.CreatedAt, &stage.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf(errScanStage, err)
		}
		stages = append(stages, stage)
	}

	return stages, rows.Err()
}

// UpdateState persists a race-control transition
func (r *PostgresStageRepository) UpdateState(ctx context.Context, id uuid.UUID, status models.StageStatus, startTime, flagTime *time.Time) error {
	query := `
		UPDATE stages
		SET status = $2,
		    start_time = COALESCE($3, start_time),
		    flag_time = COALESCE($4, flag_time),
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.GetPool().Exec(ctx, query, id, status, startTime, flagTime)
	if err != nil {
		return fmt.Errorf("failed to update stage state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// BumpCacheVersion atomically increments the per-stage version counter
func (r *PostgresStageRepository) BumpCacheVersion(ctx context.Context, id uuid.UUID) (uint64, error) {
	query := `UPDATE stages SET cache_version = cache_version + 1 WHERE id = $1 RETURNING cache_version`

	var version uint64
	err := r.db.GetPool().QueryRow(ctx, query, id).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, models.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to bump cache version: %w", err)
	}
	return version, nil
}

// GetCacheVersion reads the current per-stage version counter
func (r *PostgresStageRepository) GetCacheVersion(ctx context.Context, id uuid.UUID) (uint64, error) {
	query := `SELECT cache_version FROM stages WHERE id = $1`

	var version uint64
	err := r.db.GetPool().QueryRow(ctx, query, id).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, models.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cache version: %w", err)
	}
	return version, nil
}
