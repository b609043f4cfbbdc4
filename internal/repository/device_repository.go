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

// PostgresDeviceRepository implements DeviceRepository for PostgreSQL
type PostgresDeviceRepository struct {
	db *database.DB
}

// NewPostgresDeviceRepository creates a new device repository
func NewPostgresDeviceRepository(db *database.DB) DeviceRepository {
	return &PostgresDeviceRepository{db: db}
}

// GetByID retrieves a device by ID
func (r *PostgresDeviceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	query := `
		SELECT id, serial, stage_id, active, readings_seen, readings_accepted,
		       last_seen_at, created_at, updated_at
		FROM devices WHERE id = $1
	`

	device := &models.Device{}
	err := r.db.GetPool().QueryRow(ctx, query, id).Scan(
		&device.ID, &device.Serial, &device.StageID, &device.Active,
		&device.ReadingsSeen, &device.ReadingsAccepted, &device.LastSeenAt,
		&device.CreatedAt, &device.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan device: %w", err)
	}

	return device, nil
}

// RecordSeen bumps the device pass counters
func (r *PostgresDeviceRepository) RecordSeen(ctx context.Context, id uuid.UUID, accepted bool, at time.Time) error {
	query := `
		UPDATE devices
		SET readings_seen = readings_seen + 1,
		    readings_accepted = readings_accepted + CASE WHEN $2 THEN 1 ELSE 0 END,
		    last_seen_at = $3,
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.GetPool().Exec(ctx, query, id, accepted, at)
	if err != nil {
		return fmt.Errorf("failed to record device activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
