package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/policystore/policystore/pkg/auth"
	"github.com/policystore/policystore/pkg/policy"
)

// handlers serves the policy endpoints. Every handler opens its own
// identity-scoped connection, so mutations are attributed to the caller
// authenticated by the middleware.
type handlers struct {
	connector policy.Connector[json.RawMessage]
	logger    *slog.Logger
}

// connect opens a connection for the authenticated caller. On failure
// it responds with a generic 500 carrying opMsg and returns false; the
// underlying error goes to the log only.
func (h *handlers) connect(w http.ResponseWriter, r *http.Request, opMsg string) (policy.Connection[json.RawMessage], bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		h.logger.Error("no identity in request context",
			"requestID", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, opMsg)
		return nil, false
	}

	conn, err := h.connector.Connect(r.Context(), identity)
	if err != nil {
		h.serverFault(w, r, opMsg, err)
		return nil, false
	}
	return conn, true
}

// serverFault logs the underlying error and answers with a generic
// operation message, never the error itself.
func (h *handlers) serverFault(w http.ResponseWriter, r *http.Request, opMsg string, err error) {
	h.logger.Error(opMsg,
		"error", err,
		"requestID", middleware.GetReqID(r.Context()))
	writeError(w, http.StatusInternalServerError, opMsg)
}

// versionParam parses the {version} URL parameter.
func versionParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "version")
	version, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid version number %q", raw))
		return 0, false
	}
	return version, true
}

// addVersion handles POST /v2/policies.
func (h *handlers) addVersion(w http.ResponseWriter, r *http.Request) {
	var req AddVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Contents) == 0 {
		writeError(w, http.StatusBadRequest, "missing contents")
		return
	}

	opMsg := fmt.Sprintf("failed to add policy %q", req.Metadata.Name)
	conn, ok := h.connect(w, r, opMsg)
	if !ok {
		return
	}

	version, err := conn.AddVersion(r.Context(), req.Metadata, req.Contents)
	if err != nil {
		h.serverFault(w, r, opMsg, err)
		return
	}

	writeJSON(w, http.StatusOK, AddVersionResponse{Version: version})
}

// activate handles PUT /v2/policies/active.
func (h *handlers) activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	opMsg := fmt.Sprintf("failed to activate policy version %d", req.Version)
	conn, ok := h.connect(w, r, opMsg)
	if !ok {
		return
	}

	if err := conn.Activate(r.Context(), req.Version); err != nil {
		h.serverFault(w, r, opMsg, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// deactivate handles DELETE /v2/policies/active.
func (h *handlers) deactivate(w http.ResponseWriter, r *http.Request) {
	const opMsg = "failed to deactivate the active policy"
	conn, ok := h.connect(w, r, opMsg)
	if !ok {
		return
	}

	if err := conn.Deactivate(r.Context()); err != nil {
		h.serverFault(w, r, opMsg, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// getVersions handles GET /v2/policies.
func (h *handlers) getVersions(w http.ResponseWriter, r *http.Request) {
	const opMsg = "failed to retrieve policy versions"
	conn, ok := h.connect(w, r, opMsg)
	if !ok {
		return
	}

	versions, err := conn.GetVersions(r.Context())
	if err != nil {
		h.serverFault(w, r, opMsg, err)
		return
	}

	writeJSON(w, http.StatusOK, GetVersionsResponse{Versions: versions})
}

// getActiveVersion handles GET /v2/policies/active.
func (h *handlers) getActiveVersion(w http.ResponseWriter, r *http.Request) {
	const opMsg = "failed to retrieve the active policy version"
	conn, ok := h.connect(w, r, opMsg)
	if !ok {
		return
	}

	version, err := conn.GetActiveVersion(r.Context())
	if err != nil {
		h.serverFault(w, r, opMsg, err)
		return
	}

	writeJSON(w, http.StatusOK, GetActiveVersionResponse{Version: version})
}

// getActivator handles GET /v2/policies/active/activator.
func (h *handlers) getActivator(w http.ResponseWriter, r *http.Request) {
	const opMsg = "failed to retrieve the activator"
	conn, ok := h.connect(w, r, opMsg)
	if !ok {
		return
	}

	activator, err := conn.GetActivator(r.Context())
	if err != nil {
		h.serverFault(w, r, opMsg, err)
		return
	}

	writeJSON(w, http.StatusOK, GetActivatorResponse{User: activator})
}

// getVersionMetadata handles GET /v2/policies/{version}.
func (h *handlers) getVersionMetadata(w http.ResponseWriter, r *http.Request) {
	version, ok := versionParam(w, r)
	if !ok {
		return
	}

	opMsg := fmt.Sprintf("failed to retrieve metadata of policy version %d", version)
	conn, ok := h.connect(w, r, opMsg)
	if !ok {
		return
	}

	metadata, err := conn.GetVersionMetadata(r.Context(), version)
	if err != nil {
		h.serverFault(w, r, opMsg, err)
		return
	}
	if metadata == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("version %d not found", version))
		return
	}

	writeJSON(w, http.StatusOK, GetVersionMetadataResponse{Metadata: *metadata})
}

// getVersionContent handles GET /v2/policies/{version}/content.
func (h *handlers) getVersionContent(w http.ResponseWriter, r *http.Request) {
	version, ok := versionParam(w, r)
	if !ok {
		return
	}

	opMsg := fmt.Sprintf("failed to retrieve content of policy version %d", version)
	conn, ok := h.connect(w, r, opMsg)
	if !ok {
		return
	}

	content, err := conn.GetVersionContent(r.Context(), version)
	if err != nil {
		h.serverFault(w, r, opMsg, err)
		return
	}
	if content == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("version %d not found", version))
		return
	}

	writeJSON(w, http.StatusOK, GetVersionContentResponse{Content: *content})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
