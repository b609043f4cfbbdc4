package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/yourusername/apex-timing/internal/database"
	"github.com/yourusername/apex-timing/internal/models"
)

const registrationColumns = `id, stage_id, bib, rider, category, status, status_reason, created_at`

// PostgresRegistrationRepository implements RegistrationRepository for PostgreSQL
type PostgresRegistrationRepository struct {
	db *database.DB
}

// NewPostgresRegistrationRepository creates a new registration repository
func NewPostgresRegistrationRepository(db *database.DB) RegistrationRepository {
	return &PostgresRegistrationRepository{db: db}
}

// ListByStage retrieves all registrations for a stage ordered by bib
func (r *PostgresRegistrationRepository) ListByStage(ctx context.Context, stageID uuid.UUID) ([]*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE stage_id = $1 ORDER BY bib ASC`

	rows, err := r.db.GetPool().Query(ctx, query, stageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query registrations: %w", err)
	}
	defer rows.Close()

	var regs []*models.Registration
	for rows.Next() {
		reg := &models.Registration{}
		err := rows.Scan(
			&reg.ID, &reg.StageID, &reg.Bib, &reg.Rider, &reg.Category,
			&reg.Status, &reg.StatusReason, &reg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		regs = append(regs, reg)
	}

	return regs, rows.Err()
}

// GetByBib resolves a bib number within a stage
func (r *PostgresRegistrationRepository) GetByBib(ctx context.Context, stageID uuid.UUID, bib int) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE stage_id = $1 AND bib = $2`

	reg := &models.Registration{}
	err := r.db.GetPool().QueryRow(ctx, query, stageID, bib).Scan(
		&reg.ID, &reg.StageID, &reg.Bib, &reg.Rider, &reg.Category,
		&reg.Status, &reg.StatusReason, &reg.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan registration: %w", err)
	}

	return reg, nil
}
