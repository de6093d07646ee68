package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/logging"
	"github.com/lead-scanner/internal/types"
)

const (
	headerUserID      = "X-User-ID"
	headerUserPlan    = "X-User-Plan"
	headerRequestID   = "X-Request-ID"
	headerInternalKey = "X-Internal-Key"
)

// RequestLoggingMiddleware attaches a request-scoped logger and logs each
// request when it completes
func RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(headerRequestID, requestID)

		logger := logging.GetGlobalLogger().WithField("request_id", requestID)
		if accountID := r.Header.Get(headerUserID); accountID != "" {
			logger = logger.WithAccount(accountID)
		}
		r = r.WithContext(logging.WithLogger(r.Context(), logger))

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		entry := logger.WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          clientIP(r),
		})
		if wrapped.statusCode >= http.StatusInternalServerError {
			entry.Warn("Request completed")
		} else {
			entry.Debug("Request completed")
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware recovers from panics and returns 500 error.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.FromContext(r.Context()).WithField("panic", rec).Error("Recovered from panic")
				writeError(w, http.StatusInternalServerError, &types.ServiceError{
					Code:    apperrors.CodeInternalError,
					Message: "an internal server error occurred",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware adds CORS headers to responses.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-User-Plan, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireAccountMiddleware rejects requests without an account identity
func RequireAccountMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(headerUserID)) == "" {
			writeError(w, http.StatusUnauthorized, &types.ServiceError{
				Code:    "UNAUTHORIZED",
				Message: "X-User-ID header is required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// InternalAuthMiddleware guards service-to-service routes with a shared
// key. An empty key disables the routes.
func InternalAuthMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given := r.Header.Get(headerInternalKey)
			if key == "" || subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
				writeError(w, http.StatusForbidden, &types.ServiceError{
					Code:    "FORBIDDEN",
					Message: "internal route",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func accountID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerUserID))
}

// clientIP prefers the first X-Forwarded-For hop set by the proxy
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestMeta(r *http.Request) types.RequestMeta {
	return types.RequestMeta{IP: clientIP(r), UserAgent: r.UserAgent()}
}
