package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReadingKind is the type of timing event a collector emitted.
type ReadingKind string

const (
	KindPassage ReadingKind = "PASSAGE"
	KindEntry   ReadingKind = "ENTRY"
	KindExit    ReadingKind = "EXIT"
)

// Reading is one timing event in the append-mostly reading log. Rows are
// never physically removed; organizer review works through the discarded
// flag and recomputation always filters on it.
type Reading struct {
	ID                uuid.UUID           `db:"id" json:"id"`
	StageID           uuid.UUID           `db:"stage_id" json:"stage_id"`
	Bib               int                 `db:"bib" json:"bib"`
	Kind              ReadingKind         `db:"kind" json:"kind"`
	Timestamp         time.Time           `db:"timestamp_utc" json:"timestamp_utc"`
	Special           int                 `db:"special" json:"special,omitempty"`
	Lap               int                 `db:"lap" json:"lap,omitempty"`
	DeviceID          uuid.UUID           `db:"device_id" json:"device_id"`
	Elapsed           decimal.NullDecimal `db:"elapsed_seconds" json:"elapsed_seconds"`
	Discarded         bool                `db:"discarded" json:"discarded"`
	DiscardReason     *string             `db:"discard_reason" json:"discard_reason,omitempty"`
	IdentityHash      string              `db:"identity_hash" json:"identity_hash"`
	ManuallyCorrected bool                `db:"manually_corrected" json:"manually_corrected"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
}

// DedupKey is the composite identity used by tolerance-window deduplication:
// two readings with the same key closer than the window are one physical
// crossing seen twice.
func (r *Reading) DedupKey() string {
	return fmt.Sprintf("%s:%d:%s:%d:%d", r.StageID, r.Bib, r.Kind, r.Special, r.Lap)
}

// ComputeIdentityHash derives the content hash that makes ingestion
// idempotent under collector retries. Timestamps are truncated to the
// millisecond so serialization round-trips do not change the hash.
func ComputeIdentityHash(stageID uuid.UUID, bib int, kind ReadingKind, special, lap int, ts time.Time) string {
	canonical := fmt.Sprintf("%s|%d|%s|%d|%d|%d",
		stageID, bib, kind, special, lap, ts.UTC().Truncate(time.Millisecond).UnixMilli())
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// RefreshIdentityHash regenerates the hash after a manual correction.
func (r *Reading) RefreshIdentityHash() {
	r.IdentityHash = ComputeIdentityHash(r.StageID, r.Bib, r.Kind, r.Special, r.Lap, r.Timestamp)
}

// SecondsBetween returns b-a as decimal seconds, exact to the millisecond.
// Elapsed times are always re-derived from raw timestamps with this helper
// rather than accumulated from per-lap deltas.
func SecondsBetween(a, b time.Time) decimal.Decimal {
	return decimal.New(b.Sub(a).Milliseconds(), -3)
}

// ReadingSubmission is the collector-facing ingestion payload.
type ReadingSubmission struct {
	StageID   uuid.UUID   `json:"stage_id" validate:"required"`
	DeviceID  uuid.UUID   `json:"device_id" validate:"required"`
	Bib       int         `json:"bib" validate:"required,gt=0"`
	Kind      ReadingKind `json:"kind" validate:"required,oneof=PASSAGE ENTRY EXIT"`
	Timestamp time.Time   `json:"timestamp" validate:"required"`
	Special   int         `json:"special" validate:"gte=0"`
	Lap       int         `json:"lap" validate:"gte=0"`
	// Backfill marks a late sync from an offline collector queue; it is the
	// only way readings enter a FINISHED stage.
	Backfill bool `json:"backfill"`
}

// IngestOutcome is the per-reading result of the ingestion pipeline.
type IngestOutcome string

const (
	OutcomeAccepted  IngestOutcome = "ACCEPTED"
	OutcomeDuplicate IngestOutcome = "DUPLICATE"
	OutcomeRejected  IngestOutcome = "REJECTED"
)

// RejectReason classifies why a reading was rejected.
type RejectReason string

const (
	ReasonValidation RejectReason = "VALIDATION"
	ReasonDevice     RejectReason = "DEVICE"
	ReasonStageState RejectReason = "STAGE_STATE"
	ReasonNotFound   RejectReason = "NOT_FOUND"
	// ReasonStorage marks a persistence timeout or failure; the collector
	// may retry, ingestion never retries on its own.
	ReasonStorage RejectReason = "STORAGE"
)

// IngestResult is the synchronous outcome returned for one submission.
type IngestResult struct {
	Outcome   IngestOutcome `json:"outcome"`
	Reason    RejectReason  `json:"reason,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	Retryable bool          `json:"retryable,omitempty"`
	ReadingID *uuid.UUID    `json:"reading_id,omitempty"`
}

// BatchReport aggregates per-item outcomes for a batch submission. Items are
// processed independently in arrival order; one failure never aborts the rest.
type BatchReport struct {
	Received   int            `json:"received"`
	Processed  int            `json:"processed"`
	Duplicated int            `json:"duplicated"`
	Errored    int            `json:"errored"`
	Items      []IngestResult `json:"items"`
}

// Add folds one item outcome into the batch counters.
func (b *BatchReport) Add(res IngestResult) {
	b.Items = append(b.Items, res)
	switch res.Outcome {
	case OutcomeAccepted:
		b.Processed++
	case OutcomeDuplicate:
		b.Duplicated++
	case OutcomeRejected:
		b.Errored++
	}
}
