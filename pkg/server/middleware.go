package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/policystore/policystore/pkg/auth"
)

// authMiddleware authorizes every request through the resolver and
// injects the resulting identity into the request context. Client
// faults surface with the status the fault carries; server faults are
// logged and mapped to a generic 500.
func authMiddleware(resolver auth.Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, fault, err := resolver.Authorize(r.Context(), r.Header)
			if err != nil {
				logger.Error("authorization failed",
					"error", err,
					"requestID", middleware.GetReqID(r.Context()))
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if fault != nil {
				writeError(w, fault.Status, fault.Message)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}
