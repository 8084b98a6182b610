package audit

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/policystore/policystore/pkg/auth"
)

// responseCapture wraps http.ResponseWriter to capture the status code.
type responseCapture struct {
	http.ResponseWriter
	status int
}

func (rc *responseCapture) WriteHeader(code int) {
	if rc.status == 0 {
		rc.status = code
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if rc.status == 0 {
		rc.status = http.StatusOK
	}
	return rc.ResponseWriter.Write(b)
}

// Middleware records an audit event for every mutating request after
// the handler completes. Writes are best-effort: a failed append is
// logged and never fails the response.
func Middleware(store *Store, cfg *Config, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if !isMutation(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			status := capture.status
			if status == 0 {
				status = http.StatusOK
			}
			outcome := outcomeFromStatus(status)
			if outcome == "denied" && !cfg.LogDenied {
				return
			}

			ctx := r.Context()
			actor := "anonymous"
			if id, ok := auth.IdentityFromContext(ctx); ok {
				actor = id.ID
			}

			requestID := middleware.GetReqID(ctx)
			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = requestID
			}

			event := &EventRecord{
				ID:            uuid.New().String(),
				RequestID:     requestID,
				CorrelationID: correlationID,
				Actor:         actor,
				Action:        actionForRequest(r.Method, r.URL.Path),
				Resource:      resourceForPath(r.URL.Path),
				Outcome:       outcome,
				StatusCode:    status,
				Method:        r.Method,
				Path:          r.URL.Path,
				Detail:        time.Since(start).String(),
				CreatedAt:     start,
			}
			if err := store.Append(event); err != nil {
				logger.Error("failed to write audit event", "error", err, "requestID", requestID)
			}
		})
	}
}

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "success"
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "denied"
	default:
		return "failure"
	}
}

// actionForRequest names the mutation performed by a request.
func actionForRequest(method, path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	switch {
	case method == http.MethodPost && trimmed == "/v2/policies":
		return "create-version"
	case method == http.MethodPut && trimmed == "/v2/policies/active":
		return "activate"
	case method == http.MethodDelete && trimmed == "/v2/policies/active":
		return "deactivate"
	}

	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut:
		return "update"
	case http.MethodPatch:
		return "patch"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// resourceForPath extracts the resource segment from a URL path, e.g.
// "policies" from /v2/policies/active.
func resourceForPath(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// isMutation returns true if the request should be audited. Mutating
// methods are audited; browsing (GET) and health endpoints are not.
func isMutation(method, path string) bool {
	if isHealthEndpoint(path) {
		return false
	}

	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// isHealthEndpoint returns true for health-check paths.
func isHealthEndpoint(path string) bool {
	switch path {
	case "/livez", "/readyz", "/healthz":
		return true
	}
	return false
}
