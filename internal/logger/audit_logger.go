// Package logger provides audit logging.
package logger

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AuditLogger provides a dedicated audit trail for timing decisions that do
// not leave a Reading row behind: near-duplicate rejections, discards,
// manual corrections and race-control transitions.
type AuditLogger struct {
	*logrus.Entry
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(baseLogger *logrus.Logger) *AuditLogger {
	return &AuditLogger{
		Entry: baseLogger.WithField("component", "audit"),
	}
}

// LogNearDuplicate records a reading coalesced by the tolerance window.
// Near-duplicates are never persisted, so this entry is the only trace.
func (al *AuditLogger) LogNearDuplicate(stageID, deviceID uuid.UUID, bib int, kind string, ts, matchedTs time.Time) {
	al.WithFields(logrus.Fields{
		"stage_id":   stageID,
		"device_id":  deviceID,
		"bib":        bib,
		"kind":       kind,
		"timestamp":  ts.UnixMilli(),
		"matched_ts": matchedTs.UnixMilli(),
	}).Info("Near-duplicate reading coalesced")
}

// LogReadingRejected records a rejected submission with its reason code.
func (al *AuditLogger) LogReadingRejected(stageID, deviceID uuid.UUID, bib int, reason, detail string) {
	al.WithFields(logrus.Fields{
		"stage_id":  stageID,
		"device_id": deviceID,
		"bib":       bib,
		"reason":    reason,
		"detail":    detail,
	}).Warn("Reading rejected")
}

// LogUnmatchedExit records an EXIT stored without a matching ENTRY.
func (al *AuditLogger) LogUnmatchedExit(stageID, readingID uuid.UUID, bib, special, lap int) {
	al.WithFields(logrus.Fields{
		"stage_id":   stageID,
		"reading_id": readingID,
		"bib":        bib,
		"special":    special,
		"lap":        lap,
	}).Warn("Unmatched EXIT retained for review")
}

// LogManualCorrection records a timestamp correction on a stored reading.
func (al *AuditLogger) LogManualCorrection(readingID uuid.UUID, oldTs, newTs time.Time, oldHash, newHash string) {
	al.WithFields(logrus.Fields{
		"reading_id": readingID,
		"old_ts":     oldTs.UnixMilli(),
		"new_ts":     newTs.UnixMilli(),
		"old_hash":   oldHash,
		"new_hash":   newHash,
	}).Info("Reading manually corrected")
}

// LogDiscard records a soft-delete or restore of a reading.
func (al *AuditLogger) LogDiscard(readingID uuid.UUID, discarded bool, reason string) {
	al.WithFields(logrus.Fields{
		"reading_id": readingID,
		"discarded":  discarded,
		"reason":     reason,
	}).Info("Reading discard state changed")
}

// LogRaceControl records a race-control transition.
func (al *AuditLogger) LogRaceControl(stageID uuid.UUID, transition string, from, to string, at *time.Time) {
	fields := logrus.Fields{
		"stage_id":   stageID,
		"transition": transition,
		"from":       from,
		"to":         to,
	}
	if at != nil {
		fields["at"] = at.UnixMilli()
	}
	al.WithFields(fields).Info("Race control transition")
}
