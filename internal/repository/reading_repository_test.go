package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

// A concurrent resubmission hitting the readings_identity_live index must
// surface as ErrDuplicateKey so the pipeline answers DUPLICATE instead of a
// retryable storage rejection.
func TestUniqueViolationDetection(t *testing.T) {
	raw := &pgconn.PgError{Code: "23505", ConstraintName: "readings_identity_live"}

	assert.True(t, isUniqueViolation(raw))
	assert.True(t, isUniqueViolation(fmt.Errorf("exec failed: %w", raw)), "detected through wrapping")

	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}), "other constraint classes pass through")
	assert.False(t, isUniqueViolation(errors.New("connection refused")))
	assert.False(t, isUniqueViolation(nil))
}
