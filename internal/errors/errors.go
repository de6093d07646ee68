// Package errors defines the categorized error taxonomy shared by services and the API.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/lead-scanner/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation is malformed input rejected before reaching the ledger
	CategoryValidation ErrorCategory = "validation"
	// CategoryEconomic covers credit, daily cap and duplicate-search refusals
	CategoryEconomic ErrorCategory = "economic"
	// CategoryProvider represents listings/geo provider failures
	CategoryProvider ErrorCategory = "provider"
	// CategoryDatabase represents datastore failures
	CategoryDatabase ErrorCategory = "database"
	// CategoryNotFound represents unknown resources
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents invalid state transitions
	CategoryConflict ErrorCategory = "conflict"
	// CategorySystem represents everything else (5xx)
	CategorySystem ErrorCategory = "system"
)

// Machine-readable error codes
const (
	CodeInvalidArea         = "INVALID_AREA"
	CodeInvalidParameter    = "INVALID_PARAMETER"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeDailyLimitExceeded  = "DAILY_LIMIT_EXCEEDED"
	CodeDuplicateSearch     = "DUPLICATE_SEARCH"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeJobNotFound         = "JOB_NOT_FOUND"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeSearchNotFound      = "SEARCH_NOT_FOUND"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeProviderError       = "PROVIDER_ERROR"
	CodeProviderTimeout     = "PROVIDER_TIMEOUT"
	CodeProviderQuota       = "PROVIDER_QUOTA"
	CodeDatabaseError       = "DATABASE_ERROR"
	CodeInternalError       = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to the wire representation
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Validation errors (400)

// NewInvalidAreaError rejects a malformed or out-of-bounds search area
func NewInvalidAreaError(reason string, details map[string]interface{}) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidArea,
		Message:    fmt.Sprintf("invalid search area: %s", reason),
		Details:    details,
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// Economic errors (402 / 429)

// NewInsufficientCreditsError is returned when the balance cannot cover a charge
func NewInsufficientCreditsError(required, remaining int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryEconomic,
		StatusCode: http.StatusPaymentRequired,
		Code:       CodeInsufficientCredits,
		Message:    fmt.Sprintf("insufficient credits: %d required, %d remaining", required, remaining),
		Details: map[string]interface{}{
			"creditsRequired":  required,
			"creditsRemaining": remaining,
		},
	}
}

// NewDailyLimitExceededError is returned when a charge would pass the daily cap
func NewDailyLimitExceededError(dailyUsage, dailyLimit, amount int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryEconomic,
		StatusCode: http.StatusPaymentRequired,
		Code:       CodeDailyLimitExceeded,
		Message:    fmt.Sprintf("daily limit exceeded: %d used of %d, %d requested", dailyUsage, dailyLimit, amount),
		Details: map[string]interface{}{
			"dailyUsage":      dailyUsage,
			"dailyLimit":      dailyLimit,
			"creditsRequired": amount,
		},
	}
}

// NewDuplicateSearchError blocks a repeated search inside the cooldown window
func NewDuplicateSearchError(waitMinutes int, lastSearchID string, lastResultCount int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryEconomic,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeDuplicateSearch,
		Message:    fmt.Sprintf("identical search already run; retry in %d minute(s) or reuse the previous results", waitMinutes),
		Details: map[string]interface{}{
			"waitMinutes":     waitMinutes,
			"lastSearchId":    lastSearchID,
			"lastResultCount": lastResultCount,
		},
	}
}

// NewRateLimitError creates a request rate limit error
func NewRateLimitError(retryAfterSeconds int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryEconomic,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfterSeconds,
		},
	}
}

// Not found / conflict

// NewNotFoundError creates a not found error with a specific code
func NewNotFoundError(code, resource, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       code,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewJobNotFoundError reports an unknown job id
func NewJobNotFoundError(jobID string) *CategorizedError {
	return NewNotFoundError(CodeJobNotFound, "job", jobID)
}

// NewAccountNotFoundError reports an unknown credit account
func NewAccountNotFoundError(accountID string) *CategorizedError {
	return NewNotFoundError(CodeAccountNotFound, "credit account", accountID)
}

// NewSearchNotFoundError reports an unknown search record
func NewSearchNotFoundError(searchID string) *CategorizedError {
	return NewNotFoundError(CodeSearchNotFound, "search", searchID)
}

// NewInvalidTransitionError reports a job state change that is not allowed
func NewInvalidTransitionError(jobID string, from, to types.JobStatus) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeInvalidTransition,
		Message:    fmt.Sprintf("job %s cannot move from %s to %s", jobID, from, to),
		Details: map[string]interface{}{
			"jobId": jobID,
			"from":  from,
			"to":    to,
		},
	}
}

// System / provider errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabaseError,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewProviderError creates a data provider error
func NewProviderError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeProviderError,
		Message:    fmt.Sprintf("data provider error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewProviderTimeoutError creates a provider timeout error
func NewProviderTimeoutError(provider string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusGatewayTimeout,
		Code:       CodeProviderTimeout,
		Message:    fmt.Sprintf("data provider timeout: %s", provider),
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewProviderQuotaError reports that the provider refused the call for quota reasons
func NewProviderQuotaError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeProviderQuota,
		Message:    fmt.Sprintf("data provider quota exhausted: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// HasCode reports whether err carries the given machine code
func HasCode(err error, code string) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Code == code
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is worth retrying. Economic and
// validation errors never are: the caller has to change something first.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryDatabase:
		return true
	case CategoryProvider:
		return catErr.Code != CodeProviderQuota
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
