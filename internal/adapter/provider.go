// Package adapter talks to external listings and open geo-data services.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/lead-scanner/internal/category"
	"github.com/lead-scanner/internal/models"
	"github.com/lead-scanner/internal/types"
)

// SearchRequest is one listings lookup
type SearchRequest struct {
	Params        types.SearchParams
	Category      category.Category
	ProviderTypes []string
	MaxResults    int
}

// ListingsProvider returns businesses for a search
type ListingsProvider interface {
	Name() string
	Search(ctx context.Context, req SearchRequest) ([]*models.CachedBusiness, error)
}

// ErrorKind classifies provider failures
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindQuota       ErrorKind = "quota"
	KindUnavailable ErrorKind = "unavailable"
	KindNetwork     ErrorKind = "network"
	KindBadRequest  ErrorKind = "bad_request"
	KindMalformed   ErrorKind = "malformed"
)

// ProviderError is a classified failure from an external service
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s (HTTP %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or "" when err is not a ProviderError
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsTransient reports whether trying again (possibly elsewhere) may succeed
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindUnavailable, KindQuota:
		return true
	default:
		return false
	}
}

// classifyTransportError maps an http.Client error to a ProviderError
func classifyTransportError(provider string, err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: provider, Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Provider: provider, Kind: KindTimeout, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &ProviderError{Provider: provider, Kind: KindTimeout, Err: err}
	}
	return &ProviderError{Provider: provider, Kind: KindNetwork, Err: err}
}

// classifyStatus maps a non-2xx HTTP status to a ProviderError
func classifyStatus(provider string, status int, body string) *ProviderError {
	kind := KindUnavailable
	switch {
	case status == 429:
		kind = KindQuota
	case status == 504 || status == 408:
		kind = KindTimeout
	case status >= 400 && status < 500:
		kind = KindBadRequest
	}
	return &ProviderError{Provider: provider, Kind: kind, StatusCode: status, Err: errors.New(body)}
}
