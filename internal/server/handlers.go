package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aristath/tremor/internal/domain"
	"github.com/aristath/tremor/internal/pipeline"
	"github.com/aristath/tremor/internal/scoring"
)

// runManager tracks in-flight runs so abort requests can reach them.
type runManager struct {
	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func newRunManager() *runManager {
	return &runManager{active: make(map[string]context.CancelFunc)}
}

func (m *runManager) add(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[id] = cancel
}

func (m *runManager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
}

// abort cancels the run if it is still in flight.
func (m *runManager) abort(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.active[id]
	if ok {
		cancel()
	}
	return ok
}

func (m *runManager) abortAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cancel := range m.active {
		cancel()
	}
}

// createRunRequest is the body of POST /api/runs.
type createRunRequest struct {
	Path string `json:"path"`
}

// handleCreateRun starts an analysis of a source file in the background and
// returns the run ID immediately. Progress arrives on the run's stream.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Path == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	runID := "run-" + uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	ctx = pipeline.WithRunID(ctx, runID)
	s.runs.add(runID, cancel)

	go func() {
		defer cancel()
		defer s.runs.remove(runID)
		if _, err := s.pipe.RunFile(ctx, req.Path); err != nil {
			s.log.Warn().Err(err).Str("run", runID).Msg("background run failed")
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": string(domain.RunRunning),
	})
}

// handleListRuns returns recent runs, newest first. ?limit caps the count.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list runs failed")
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// handleAbortRun cancels an in-flight run, or deletes a finished one along
// with all its artifacts.
func (s *Server) handleAbortRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.runs.abort(id) {
		s.writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id": id,
			"status": string(domain.RunAborted),
		})
		return
	}

	if _, ok := s.lookupRun(w, r); !ok {
		return
	}
	if err := s.store.DeleteRun(id); err != nil {
		s.log.Error().Err(err).Str("run", id).Msg("delete run failed")
		s.writeError(w, http.StatusInternalServerError, "failed to delete run")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"run_id": id, "status": "deleted"})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	events, err := s.store.RunEvents(run.ID)
	if err != nil {
		s.log.Error().Err(err).Str("run", run.ID).Msg("load events failed")
		s.writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run_id": run.ID, "events": events})
}

func (s *Server) handleRunSegments(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	segments, err := s.store.RunSegments(run.ID)
	if err != nil {
		s.log.Error().Err(err).Str("run", run.ID).Msg("load segments failed")
		s.writeError(w, http.StatusInternalServerError, "failed to load segments")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run_id": run.ID, "segments": segments})
}

// handleRunScores returns all field scores of a run. ?confirmed=true keeps
// only the scores that cleared the gates.
func (s *Server) handleRunScores(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	scores, err := s.store.RunScores(run.ID)
	if err != nil {
		s.log.Error().Err(err).Str("run", run.ID).Msg("load scores failed")
		s.writeError(w, http.StatusInternalServerError, "failed to load scores")
		return
	}
	if r.URL.Query().Get("confirmed") == "true" {
		confirmed := scores[:0]
		for _, sc := range scores {
			if sc.Confirmed {
				confirmed = append(confirmed, sc)
			}
		}
		scores = confirmed
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run_id": run.ID, "scores": scores})
}

func (s *Server) handleRunVeto(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	veto, err := s.store.RunVeto(run.ID)
	if err != nil {
		s.log.Error().Err(err).Str("run", run.ID).Msg("load veto failed")
		s.writeError(w, http.StatusInternalServerError, "failed to load veto result")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run_id": run.ID, "veto": veto})
}

func (s *Server) handleRunDecisions(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	decisions, err := s.store.RunDecisions(run.ID)
	if err != nil {
		s.log.Error().Err(err).Str("run", run.ID).Msg("load decisions failed")
		s.writeError(w, http.StatusInternalServerError, "failed to load decisions")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run_id": run.ID, "decisions": decisions})
}

// scoreRequest is the body of POST /api/score. RunID selects the weight
// matrix source; empty means the latest completed run.
type scoreRequest struct {
	RunID       string             `json:"run_id,omitempty"`
	Observation map[string]float64 `json:"observation"`
}

// handleScore scores one live observation against the deployed weight matrix
// of a completed run.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Observation) == 0 {
		s.writeError(w, http.StatusBadRequest, "observation is required")
		return
	}

	runID := req.RunID
	if runID == "" {
		latest, err := s.latestCompletedRun()
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.writeError(w, http.StatusNotFound, "no completed run to score against")
				return
			}
			s.log.Error().Err(err).Msg("find latest run failed")
			s.writeError(w, http.StatusInternalServerError, "failed to find latest run")
			return
		}
		runID = latest
	} else if _, err := s.store.GetRun(runID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
		} else {
			s.log.Error().Err(err).Str("run", runID).Msg("load run failed")
			s.writeError(w, http.StatusInternalServerError, "failed to load run")
		}
		return
	}

	scores, err := s.store.RunScores(runID)
	if err != nil {
		s.log.Error().Err(err).Str("run", runID).Msg("load scores failed")
		s.writeError(w, http.StatusInternalServerError, "failed to load scores")
		return
	}
	matrix := scoring.NewMatrix(scores)
	if len(matrix.Fields) == 0 {
		s.writeError(w, http.StatusConflict, "run has no confirmed lag-zero fields")
		return
	}

	live := matrix.Score(req.Observation)
	s.writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "result": live})
}

// latestCompletedRun returns the newest completed run's ID.
func (s *Server) latestCompletedRun() (string, error) {
	runs, err := s.store.ListRuns(0)
	if err != nil {
		return "", err
	}
	for _, run := range runs {
		if run.Status == domain.RunCompleted {
			return run.ID, nil
		}
	}
	return "", domain.ErrNotFound
}

// lookupRun resolves the {id} route parameter, writing the error response
// itself when the run does not exist.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (domain.Run, bool) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
		} else {
			s.log.Error().Err(err).Str("run", id).Msg("load run failed")
			s.writeError(w, http.StatusInternalServerError, "failed to load run")
		}
		return domain.Run{}, false
	}
	return run, true
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
