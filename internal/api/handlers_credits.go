package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/lead-scanner/internal/service"
	"github.com/lead-scanner/internal/types"
)

// handleGetCredits handles GET /api/credits
func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	account, err := s.creditService.Balance(r.Context(), accountID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

// handleGetTransactions handles GET /api/credits/transactions?limit=
func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _, err := parsePagination(r, 50)
	if err != nil {
		respondError(w, r, err)
		return
	}

	txs, err := s.creditService.History(r.Context(), accountID(r), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"limit":        limit,
	})
}

type addCreditsRequest struct {
	Amount  int                    `json:"amount"`
	Type    types.OperationType    `json:"type"`
	JobID   *string                `json:"jobId"`
	Details map[string]interface{} `json:"details"`
}

// handleAddCredits handles POST /internal/credits/{accountId}/add, used by
// billing for purchases and grants and by support for refunds
func (s *Server) handleAddCredits(w http.ResponseWriter, r *http.Request) {
	var req addCreditsRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Type == "" {
		req.Type = types.OpPurchase
	}

	result, err := s.creditService.Add(r.Context(), service.AddInput{
		AccountID: mux.Vars(r)["accountId"],
		Amount:    req.Amount,
		Type:      req.Type,
		JobID:     req.JobID,
		Details:   req.Details,
		Meta:      requestMeta(r),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type ensureAccountRequest struct {
	Plan     types.Plan `json:"plan"`
	Timezone string     `json:"timezone"`
}

// handleEnsureAccount handles PUT /internal/accounts/{accountId}
func (s *Server) handleEnsureAccount(w http.ResponseWriter, r *http.Request) {
	var req ensureAccountRequest
	if r.ContentLength != 0 {
		if err := parseJSONBody(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
	}

	account, err := s.creditService.EnsureAccount(r.Context(), mux.Vars(r)["accountId"],
		types.Plan(strings.ToLower(string(req.Plan))), req.Timezone)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

// handleReconcile handles GET /internal/credits/{accountId}/reconcile
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.creditService.Reconcile(r.Context(), mux.Vars(r)["accountId"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
