package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends the categorized form of err. Server-side failures are
// logged with their cause and answered with the public message only.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)
	if catErr.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).WithField("code", catErr.Code).Error("Request failed")
	}
	if catErr.Code == apperrors.CodeRateLimitExceeded || catErr.Code == apperrors.CodeDuplicateSearch {
		if retry, ok := retryAfterSeconds(catErr); ok {
			w.Header().Set("Retry-After", retry)
		}
	}
	writeError(w, catErr.StatusCode, catErr.ToServiceError())
}

func writeError(w http.ResponseWriter, statusCode int, svcErr *types.ServiceError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: *svcErr})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

const maxBodyBytes = 1 << 20

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return apperrors.NewInvalidParameterError("body", err.Error())
	}
	return nil
}

func retryAfterSeconds(catErr *apperrors.CategorizedError) (string, bool) {
	if v, ok := catErr.Details["retryAfter"].(int); ok {
		return strconv.Itoa(v), true
	}
	if v, ok := catErr.Details["waitMinutes"].(int); ok {
		return strconv.Itoa(v * 60), true
	}
	return "", false
}
