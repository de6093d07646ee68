package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEconomicErrorsCarryContext(t *testing.T) {
	err := NewInsufficientCreditsError(30, 12)
	assert.Equal(t, http.StatusPaymentRequired, err.StatusCode)
	assert.Equal(t, 30, err.Details["creditsRequired"])
	assert.Equal(t, 12, err.Details["creditsRemaining"])

	dup := NewDuplicateSearchError(4, "search-1", 57)
	assert.Equal(t, http.StatusTooManyRequests, dup.StatusCode)
	assert.Equal(t, "search-1", dup.Details["lastSearchId"])
	assert.Equal(t, 4, dup.Details["waitMinutes"])
}

func TestCategorize_Wrapped(t *testing.T) {
	base := NewDailyLimitExceededError(90, 100, 30)
	wrapped := fmt.Errorf("start search: %w", base)

	assert.Equal(t, http.StatusPaymentRequired, GetHTTPStatusCode(wrapped))
	assert.True(t, HasCode(wrapped, CodeDailyLimitExceeded))
	assert.False(t, HasCode(wrapped, CodeInsufficientCredits))
}

func TestCategorize_Plain(t *testing.T) {
	cat := Categorize(fmt.Errorf("boom"))
	assert.Equal(t, CodeInternalError, cat.Code)
	assert.Nil(t, Categorize(nil))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"provider error", NewProviderError("places", fmt.Errorf("502")), true},
		{"provider timeout", NewProviderTimeoutError("places"), true},
		{"provider quota", NewProviderQuotaError("places", nil), false},
		{"database", NewDatabaseError("insert", fmt.Errorf("conn reset")), true},
		{"insufficient credits", NewInsufficientCreditsError(1, 0), false},
		{"duplicate", NewDuplicateSearchError(1, "s", 0), false},
		{"validation", NewInvalidAreaError("too small", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsUserError(t *testing.T) {
	assert.True(t, IsUserError(NewJobNotFoundError("x")))
	assert.False(t, IsUserError(NewDatabaseError("select", nil)))
}
