package api

import (
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/types"
)

// handleJobStatus handles GET /api/jobs/{id}
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.jobService.GetStatus(r.Context(), accountID(r), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// handleProcessJob handles POST /internal/jobs/{id}/process. It hands the
// job to the workers and answers 202; a job that is no longer pending is
// acknowledged without doing anything.
func (s *Server) handleProcessJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	job, err := s.jobService.Get(r.Context(), jobID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	queued := false
	if job.Status == types.JobPending {
		if err := s.trigger.Enqueue(r.Context(), jobID); err != nil {
			respondError(w, r, apperrors.NewInternalError("failed to enqueue job", err))
			return
		}
		queued = true
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":  jobID,
		"status": job.Status,
		"queued": queued,
	})
}
