package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/apex-timing/internal/classification"
	"github.com/yourusername/apex-timing/internal/ingest"
)

// Fanout delivers one update to multiple sinks. Each sink is already
// non-blocking on its own; Fanout just sequences them.
type Fanout struct {
	sinks []ingest.Notifier
}

// NewFanout creates a multi-sink notifier.
func NewFanout(sinks ...ingest.Notifier) *Fanout {
	return &Fanout{sinks: sinks}
}

// Publish implements ingest.Notifier.
func (f *Fanout) Publish(stageID uuid.UUID, payload interface{}) {
	for _, sink := range f.sinks {
		sink.Publish(stageID, payload)
	}
}

// EngineRefresher feeds accepted readings into the classification engine's
// incremental path so the cache is warm before the next read. Refresh is
// advisory: an error just means the next classification request recomputes.
type EngineRefresher struct {
	engine  *classification.Engine
	timeout time.Duration
	logger  *logrus.Logger
}

// NewEngineRefresher creates the incremental-refresh sink.
func NewEngineRefresher(engine *classification.Engine, logger *logrus.Logger) *EngineRefresher {
	return &EngineRefresher{engine: engine, timeout: 10 * time.Second, logger: logger}
}

// Publish implements ingest.Notifier.
func (e *EngineRefresher) Publish(stageID uuid.UUID, payload interface{}) {
	update, ok := payload.(ingest.Update)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if _, err := e.engine.ApplyUpdate(ctx, stageID, update.Bib); err != nil {
		e.logger.WithError(err).WithField("stage_id", stageID).Debug("incremental refresh skipped")
	}
}
