package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/apex-timing/internal/classification"
	"github.com/yourusername/apex-timing/internal/models"
	"github.com/yourusername/apex-timing/internal/tracing"
)

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("response encode failed")
	}
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ve *models.ValidationError
	var sc *models.StateConflictError
	switch {
	case errors.Is(err, models.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Detail: err.Error()})
	case errors.As(err, &sc):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "state_conflict", Detail: err.Error()})
	case errors.As(err, &ve):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Code, Detail: ve.Message})
	case errors.Is(err, classification.ErrComputationAborted):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "computation_aborted", Detail: err.Error()})
	default:
		s.logger.WithError(err).Error("request failed")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Detail: err.Error()})
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, models.NewValidationError("invalid_id", "path segment "+name+" is not a valid UUID")
	}
	return id, nil
}

// ingestStatus maps a per-reading outcome to an HTTP status. Accepted
// readings answer 202: classification is recomputed asynchronously.
func ingestStatus(res models.IngestResult) int {
	switch res.Outcome {
	case models.OutcomeAccepted:
		return http.StatusAccepted
	case models.OutcomeDuplicate:
		return http.StatusOK
	}
	switch res.Reason {
	case models.ReasonNotFound:
		return http.StatusNotFound
	case models.ReasonStageState:
		return http.StatusConflict
	case models.ReasonDevice:
		return http.StatusForbidden
	case models.ReasonStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleSubmitReading(w http.ResponseWriter, r *http.Request) {
	var sub models.ReadingSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		s.writeError(w, models.NewValidationError("invalid_body", err.Error()))
		return
	}
	res := s.pipeline.Accept(r.Context(), &sub)
	s.writeJSON(w, ingestStatus(res), res)
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var subs []models.ReadingSubmission
	if err := json.NewDecoder(r.Body).Decode(&subs); err != nil {
		s.writeError(w, models.NewValidationError("invalid_body", err.Error()))
		return
	}
	report := s.pipeline.AcceptBatch(r.Context(), subs)
	// The batch itself succeeds even when individual items fail.
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDiscardReading(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, models.NewValidationError("invalid_body", err.Error()))
		return
	}
	if err := s.pipeline.Discard(r.Context(), id, body.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
}

func (s *Server) handleRestoreReading(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.pipeline.Restore(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (s *Server) handleCorrectReading(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Timestamp.IsZero() {
		s.writeError(w, models.NewValidationError("invalid_body", "timestamp is required"))
		return
	}
	reading, err := s.pipeline.Correct(r.Context(), id, body.Timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleClassification(w http.ResponseWriter, r *http.Request) {
	stageID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	filters := classification.Filters{
		Category:            q.Get("category"),
		IncludeDisqualified: q.Get("include_dsq") == "true",
		IncludeDetail:       q.Get("detail") == "true",
	}
	tracing.AddAnnotation(r.Context(), "stage_id", stageID.String())
	cls, err := s.engine.Classification(r.Context(), stageID, filters)
	if err != nil {
		tracing.AddError(r.Context(), err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cls)
}

func (s *Server) handleLiveProjection(w http.ResponseWriter, r *http.Request) {
	stageID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	rows, err := s.engine.Projection(r.Context(), stageID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSpecialLeaderboard(w http.ResponseWriter, r *http.Request) {
	stageID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	lap, err1 := strconv.Atoi(r.PathValue("lap"))
	special, err2 := strconv.Atoi(r.PathValue("special"))
	if err1 != nil || err2 != nil || lap < 1 || special < 1 {
		s.writeError(w, models.NewValidationError("invalid_segment", "lap and special must be positive integers"))
		return
	}
	board, err := s.engine.SpecialLeaderboard(r.Context(), stageID, lap, special)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, board)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	stageID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	bibA, err1 := strconv.Atoi(q.Get("bib_a"))
	bibB, err2 := strconv.Atoi(q.Get("bib_b"))
	if err1 != nil || err2 != nil {
		s.writeError(w, models.NewValidationError("invalid_bibs", "bib_a and bib_b query parameters are required"))
		return
	}
	cmp, err := s.engine.Compare(r.Context(), stageID, bibA, bibB)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cmp)
}

func (s *Server) handleUnmatched(w http.ResponseWriter, r *http.Request) {
	stageID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	regs, err := s.regs.ListByStage(r.Context(), stageID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	readings, err := s.pipeline.Unmatched(r.Context(), stageID, regs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	stageID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	cls, err := s.engine.RecalculateAll(r.Context(), stageID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cls)
}

func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	stageID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Administrative invalidation discards the snapshot outright; the next
	// request recomputes from the reading log.
	s.engine.DropCache(stageID)
	version, err := s.engine.Invalidate(r.Context(), stageID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"version": version})
}

// optionalTime reads an optional RFC3339 timestamp body field for race
// control commands; absent means "now".
func optionalTime(r *http.Request) (*time.Time, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return nil, nil
	}
	var body struct {
		Timestamp *time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, models.NewValidationError("invalid_body", err.Error())
	}
	return body.Timestamp, nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	stageID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	at, err := optionalTime(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stage, err := s.control.Start(r.Context(), stageID, at)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stage)
}

func (s *Server) handleShowFlag(w http.ResponseWriter, r *http.Request) {
	stageID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	at, err := optionalTime(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stage, err := s.control.ShowFlag(r.Context(), stageID, at)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stage)
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	stageID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	stage, err := s.control.Finish(r.Context(), stageID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stage)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	stageID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	stage, err := s.control.Cancel(r.Context(), stageID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stage)
}

func (s *Server) handleLiveSocket(w http.ResponseWriter, r *http.Request) {
	stageID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.hub.Subscribe(w, r, stageID); err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
	}
}
