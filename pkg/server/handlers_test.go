package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/policystore/policystore/pkg/audit"
	"github.com/policystore/policystore/pkg/auth"
	"github.com/policystore/policystore/pkg/cache"
	"github.com/policystore/policystore/pkg/metrics"
	"github.com/policystore/policystore/pkg/policy"
	"github.com/policystore/policystore/pkg/sqlstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// In-memory SQLite gives every pool connection its own database;
	// keep the pool at one connection so all sessions share it.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newTestRouter(t *testing.T, opts ...Option) chi.Router {
	t.Helper()

	store, err := sqlstore.New[json.RawMessage](newTestDB(t), discardLogger())
	require.NoError(t, err)

	return New(store, auth.NewStaticResolver(), discardLogger(), opts...).MountRoutes()
}

func doRequest(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func addTestPolicy(t *testing.T, router chi.Router, name, contents string) uint64 {
	t.Helper()

	rec := doRequest(t, router, http.MethodPost, "/v2/policies", AddVersionRequest{
		Metadata: policy.AttachedMetadata{Name: name, Description: "a policy for testing", Language: "eflint"},
		Contents: json.RawMessage(contents),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[AddVersionResponse](t, rec).Version
}

func TestAddVersion(t *testing.T) {
	router := newTestRouter(t)

	assert.Equal(t, uint64(1), addTestPolicy(t, router, "first", `{"rule": "allow"}`))
	assert.Equal(t, uint64(2), addTestPolicy(t, router, "second", `{"rule": "deny"}`))
}

func TestAddVersionBadBody(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v2/policies", bytes.NewReader([]byte("{not json"))))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "invalid request body")
}

func TestAddVersionMissingContents(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/v2/policies", map[string]any{
		"metadata": policy.AttachedMetadata{Name: "incomplete"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing contents", decode[map[string]string](t, rec)["error"])
}

func TestGetVersionMetadata(t *testing.T) {
	router := newTestRouter(t)
	version := addTestPolicy(t, router, "no-workdays", `{"rule": "deny"}`)

	rec := doRequest(t, router, http.MethodGet, "/v2/policies/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	meta := decode[GetVersionMetadataResponse](t, rec).Metadata
	assert.Equal(t, "no-workdays", meta.Attached.Name)
	assert.Equal(t, "a policy for testing", meta.Attached.Description)
	assert.Equal(t, "eflint", meta.Attached.Language)
	assert.Equal(t, version, meta.Version)
	assert.Equal(t, "johnsmith", meta.Creator.ID)
	assert.Equal(t, auth.DefaultDisplayName, meta.Creator.Name)
	assert.WithinDuration(t, time.Now(), meta.Created, 5*time.Second)
}

func TestGetVersionContent(t *testing.T) {
	router := newTestRouter(t)
	addTestPolicy(t, router, "content", `{"rule": "allow", "except": ["weekends"]}`)

	rec := doRequest(t, router, http.MethodGet, "/v2/policies/1/content", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"content": {"rule": "allow", "except": ["weekends"]}}`, rec.Body.String())
}

func TestVersionNotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/v2/policies/99", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "version 99 not found", decode[map[string]string](t, rec)["error"])

	rec = doRequest(t, router, http.MethodGet, "/v2/policies/99/content", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "version 99 not found", decode[map[string]string](t, rec)["error"])
}

func TestInvalidVersionParam(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/v2/policies/not-a-number", "/v2/policies/-1", "/v2/policies/1.5/content"} {
		rec := doRequest(t, router, http.MethodGet, path, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Contains(t, decode[map[string]string](t, rec)["error"], "invalid version number")
	}
}

func TestGetVersionsEmpty(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/v2/policies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"versions": {}}`, rec.Body.String())
}

func TestGetVersionsListsAll(t *testing.T) {
	router := newTestRouter(t)
	addTestPolicy(t, router, "first", `true`)
	addTestPolicy(t, router, "second", `false`)

	rec := doRequest(t, router, http.MethodGet, "/v2/policies", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	versions := decode[GetVersionsResponse](t, rec).Versions
	require.Len(t, versions, 2)
	assert.Equal(t, "first", versions[1].Attached.Name)
	assert.Equal(t, "second", versions[2].Attached.Name)
}

func TestActivationFlow(t *testing.T) {
	router := newTestRouter(t)
	version := addTestPolicy(t, router, "flow", `{"rule": "allow"}`)

	// Nothing active yet.
	rec := doRequest(t, router, http.MethodGet, "/v2/policies/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version": null}`, rec.Body.String())

	// Activate; the response body is empty.
	rec = doRequest(t, router, http.MethodPut, "/v2/policies/active", ActivateRequest{Version: version})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, rec.Body.Len())

	rec = doRequest(t, router, http.MethodGet, "/v2/policies/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version": 1}`, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/v2/policies/active/activator", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	activator := decode[GetActivatorResponse](t, rec).User
	require.NotNil(t, activator)
	assert.Equal(t, "johnsmith", activator.ID)
	assert.Equal(t, auth.DefaultDisplayName, activator.Name)

	// Deactivate; again an empty 200.
	rec = doRequest(t, router, http.MethodDelete, "/v2/policies/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, rec.Body.Len())

	rec = doRequest(t, router, http.MethodGet, "/v2/policies/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version": null}`, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/v2/policies/active/activator", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user": null}`, rec.Body.String())
}

func TestActivateBadBody(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPut, "/v2/policies/active", map[string]any{"version": "one"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "invalid request body")
}

func TestDeactivateNothingActive(t *testing.T) {
	router := newTestRouter(t)

	rec := doRequest(t, router, http.MethodDelete, "/v2/policies/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/healthz", "/livez"} {
		rec := doRequest(t, router, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "alive", decode[map[string]string](t, rec)["status"])
	}

	rec := doRequest(t, router, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode[map[string]string](t, rec)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, WithMetrics(metrics.New()))

	doRequest(t, router, http.MethodGet, "/v2/policies", nil)

	rec := doRequest(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "policystore_http_requests_total")
}

func TestResponseCache(t *testing.T) {
	router := newTestRouter(t, WithResponseCache(cache.New(16, time.Minute)))
	addTestPolicy(t, router, "cached", `{"rule": "allow"}`)

	rec := doRequest(t, router, http.MethodGet, "/v2/policies/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	rec = doRequest(t, router, http.MethodGet, "/v2/policies/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "cached", decode[GetVersionMetadataResponse](t, rec).Metadata.Attached.Name)

	rec = doRequest(t, router, http.MethodGet, "/v2/policies/1/content", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	// The active pointer moves on every activation, so it bypasses the cache.
	rec = doRequest(t, router, http.MethodPut, "/v2/policies/active", ActivateRequest{Version: 1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/v2/policies/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"version": 1}`, rec.Body.String())
}

func TestAuditTrail(t *testing.T) {
	db := newTestDB(t)
	store, err := sqlstore.New[json.RawMessage](db, discardLogger())
	require.NoError(t, err)
	auditStore, err := audit.NewStore(db)
	require.NoError(t, err)

	router := New(store, auth.NewStaticResolver(), discardLogger(),
		WithAudit(auditStore, audit.DefaultConfig())).MountRoutes()

	addTestPolicy(t, router, "audited", `true`)
	rec := doRequest(t, router, http.MethodPut, "/v2/policies/active", ActivateRequest{Version: 1})
	require.Equal(t, http.StatusOK, rec.Code)

	var events []audit.EventRecord
	require.NoError(t, db.Order("created_at ASC").Find(&events).Error)
	require.Len(t, events, 2)

	assert.Equal(t, "create-version", events[0].Action)
	assert.Equal(t, "johnsmith", events[0].Actor)
	assert.Equal(t, "success", events[0].Outcome)
	assert.Equal(t, "activate", events[1].Action)

	// Browsing is not audited.
	doRequest(t, router, http.MethodGet, "/v2/policies", nil)
	var count int64
	require.NoError(t, db.Model(&audit.EventRecord{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}
