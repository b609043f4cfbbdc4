package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/yourusername/apex-timing/internal/database"
	"github.com/yourusername/apex-timing/internal/models"
)

const errScanReading = "failed to scan reading: %w"

const readingColumns = `id, stage_id, bib, kind, timestamp_utc, special, lap, device_id,
	       elapsed_seconds, discarded, discard_reason, identity_hash, manually_corrected, created_at`

// PostgresReadingRepository implements ReadingRepository for PostgreSQL
type PostgresReadingRepository struct {
	db *database.DB
}

// NewPostgresReadingRepository creates a new reading repository
func NewPostgresReadingRepository(db *database.DB) ReadingRepository {
	return &PostgresReadingRepository{db: db}
}

// Create inserts a new reading
func (r *PostgresReadingRepository) Create(ctx context.Context, reading *models.Reading) error {
	query := `
		INSERT INTO readings (id, stage_id, bib, kind, timestamp_utc, special, lap, device_id,
		                      elapsed_seconds, discarded, discard_reason, identity_hash, manually_corrected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.GetPool().Exec(ctx, query,
		reading.ID, reading.StageID, reading.Bib, reading.Kind, reading.Timestamp,
		reading.Special, reading.Lap, reading.DeviceID, reading.Elapsed,
		reading.Discarded, reading.DiscardReason, reading.IdentityHash, reading.ManuallyCorrected,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// The readings_identity_live partial index caught a concurrent
			// resubmission; the pipeline answers DUPLICATE, not an error.
			return models.ErrDuplicateKey
		}
		return fmt.Errorf("failed to create reading: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetByID retrieves a reading by ID
func (r *PostgresReadingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings WHERE id = $1`

	reading, err := r.scanOne(r.db.GetPool().QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return reading, nil
}

// GetByIdentityHash retrieves a non-discarded reading by its identity hash
func (r *PostgresReadingRepository) GetByIdentityHash(ctx context.Context, stageID uuid.UUID, hash string) (*models.Reading, error) {
	query := `SELECT ` + readingColumns + `
		FROM readings WHERE stage_id = $1 AND identity_hash = $2 AND NOT discarded`

	reading, err := r.scanOne(r.db.GetPool().QueryRow(ctx, query, stageID, hash))
	if err != nil {
		return nil, err
	}
	return reading, nil
}

// FindNear retrieves accepted readings with the same composite identity
// within the tolerance window around ts
func (r *PostgresReadingRepository) FindNear(ctx context.Context, stageID uuid.UUID, bib int, kind models.ReadingKind, special, lap int, ts time.Time, window time.Duration) ([]*models.Reading, error) {
	query := `SELECT ` + readingColumns + `
		FROM readings
		WHERE stage_id = $1 AND bib = $2 AND kind = $3 AND NOT discarded
		  AND timestamp_utc > $4 AND timestamp_utc < $5`
	args := []interface{}{stageID, bib, kind, ts.Add(-window), ts.Add(window)}

	// For PASSAGE the lap number is derived at ingestion, so a bounced read
	// of the same crossing carries a different lap; match on kind only.
	if kind != models.KindPassage {
		query += ` AND special = $6 AND lap = $7`
		args = append(args, special, lap)
	}

	rows, err := r.db.GetPool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query near readings: %w", err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// LastPassage retrieves the rider's most recent accepted passage
func (r *PostgresReadingRepository) LastPassage(ctx context.Context, stageID uuid.UUID, bib int) (*models.Reading, error) {
	query := `SELECT ` + readingColumns + `
		FROM readings
		WHERE stage_id = $1 AND bib = $2 AND kind = 'PASSAGE' AND NOT discarded
		ORDER BY timestamp_utc DESC
		LIMIT 1`

	reading, err := r.scanOne(r.db.GetPool().QueryRow(ctx, query, stageID, bib))
	if err != nil {
		return nil, err
	}
	return reading, nil
}

// FindEntry retrieves the non-discarded ENTRY matching an EXIT's key
func (r *PostgresReadingRepository) FindEntry(ctx context.Context, stageID uuid.UUID, bib, special, lap int) (*models.Reading, error) {
	query := `SELECT ` + readingColumns + `
		FROM readings
		WHERE stage_id = $1 AND bib = $2 AND kind = 'ENTRY'
		  AND special = $3 AND lap = $4 AND NOT discarded
		ORDER BY timestamp_utc ASC
		LIMIT 1`

	reading, err := r.scanOne(r.db.GetPool().QueryRow(ctx, query, stageID, bib, special, lap))
	if err != nil {
		return nil, err
	}
	return reading, nil
}

// ListByStage retrieves all non-discarded readings for a stage ordered by timestamp
func (r *PostgresReadingRepository) ListByStage(ctx context.Context, stageID uuid.UUID) ([]*models.Reading, error) {
	query := `SELECT ` + readingColumns + `
		FROM readings
		WHERE stage_id = $1 AND NOT discarded
		ORDER BY timestamp_utc ASC`

	rows, err := r.db.GetPool().Query(ctx, query, stageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings by stage: %w", err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// ListPassages retrieves one rider's non-discarded passages ordered by timestamp
func (r *PostgresReadingRepository) ListPassages(ctx context.Context, stageID uuid.UUID, bib int) ([]*models.Reading, error) {
	query := `SELECT ` + readingColumns + `
		FROM readings
		WHERE stage_id = $1 AND bib = $2 AND kind = 'PASSAGE' AND NOT discarded
		ORDER BY timestamp_utc ASC`

	rows, err := r.db.GetPool().Query(ctx, query, stageID, bib)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages: %w", err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// ListUnmatchedExits retrieves EXIT readings without an elapsed time
func (r *PostgresReadingRepository) ListUnmatchedExits(ctx context.Context, stageID uuid.UUID) ([]*models.Reading, error) {
	query := `SELECT ` + readingColumns + `
		FROM readings
		WHERE stage_id = $1 AND kind = 'EXIT' AND elapsed_seconds IS NULL AND NOT discarded
		ORDER BY timestamp_utc ASC`

	rows, err := r.db.GetPool().Query(ctx, query, stageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unmatched exits: %w", err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// SetDiscarded soft-deletes or restores a reading
func (r *PostgresReadingRepository) SetDiscarded(ctx context.Context, id uuid.UUID, discarded bool, reason *string) error {
	query := `UPDATE readings SET discarded = $2, discard_reason = $3 WHERE id = $1`

	tag, err := r.db.GetPool().Exec(ctx, query, id, discarded, reason)
	if err != nil {
		return fmt.Errorf("failed to update discard state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateCorrected persists a manual correction
func (r *PostgresReadingRepository) UpdateCorrected(ctx context.Context, reading *models.Reading) error {
	query := `
		UPDATE readings
		SET timestamp_utc = $2, elapsed_seconds = $3, identity_hash = $4, manually_corrected = TRUE
		WHERE id = $1
	`

	tag, err := r.db.GetPool().Exec(ctx, query,
		reading.ID, reading.Timestamp, reading.Elapsed, reading.IdentityHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update corrected reading: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresReadingRepository) scanOne(row rowScanner) (*models.Reading, error) {
	reading := &models.Reading{}
	err := row.Scan(
		&reading.ID, &reading.StageID, &reading.Bib, &reading.Kind, &reading.Timestamp,
		&reading.Special, &reading.Lap, &reading.DeviceID, &reading.Elapsed,
		&reading.Discarded, &reading.DiscardReason, &reading.IdentityHash,
		&reading.ManuallyCorrected, &reading.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf(errScanReading, err)
	}
	return reading, nil
}

func (r *PostgresReadingRepository) scanAll(rows pgx.Rows) ([]*models.Reading, error) {
	var readings []*models.Reading
	for rows.Next() {
		reading, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}
