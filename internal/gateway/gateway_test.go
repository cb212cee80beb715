package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	platmw "github.com/mnemonic-nexus/mnx/internal/platform/middleware"
)

func newTestServer(cfg Config) *Server {
	return &Server{cfg: cfg, logger: zap.NewNop()}
}

func TestHandleGetEvent_InvalidWorldID(t *testing.T) {
	s := newTestServer(Config{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/events/not-a-uuid?world_id=not-a-uuid", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	require.NoError(t, s.handleGetEvent(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListEvents_MissingBranch(t *testing.T) {
	s := newTestServer(Config{})
	e := echo.New()
	worldID := "11111111-1111-1111-1111-111111111111"
	req := httptest.NewRequest(http.MethodGet, "/v1/events?world_id="+worldID, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, s.handleListEvents(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListEvents_InvalidWorldID(t *testing.T) {
	s := newTestServer(Config{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/events?world_id=bad&branch=main", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, s.handleListEvents(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateBranch_MalformedBody(t *testing.T) {
	s := newTestServer(Config{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/branches", strings.NewReader(`{not json`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, s.handleCreateBranch(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAdminProjectorOp_UnknownOp(t *testing.T) {
	s := newTestServer(Config{ProjectorEndpoints: map[string]string{"relational": "http://localhost:8090"}})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/projectors/relational/frobnicate", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("lens", "op")
	c.SetParamValues("relational", "frobnicate")

	require.NoError(t, s.handleAdminProjectorOp(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAdminProjectorOp_UnknownLens(t *testing.T) {
	s := newTestServer(Config{ProjectorEndpoints: map[string]string{"relational": "http://localhost:8090"}})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/projectors/nonexistent/snapshot?world_id=w&branch=main", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("lens", "op")
	c.SetParamValues("nonexistent", "snapshot")

	require.NoError(t, s.handleAdminProjectorOp(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAdminProjectorOp_MissingWorldOrBranch(t *testing.T) {
	s := newTestServer(Config{ProjectorEndpoints: map[string]string{"relational": "http://localhost:8090"}})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/projectors/relational/snapshot", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("lens", "op")
	c.SetParamValues("relational", "snapshot")

	require.NoError(t, s.handleAdminProjectorOp(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthMiddleware_MissingKey(t *testing.T) {
	cfg := Config{APIKeysByScope: map[string]string{"k1": "admin"}}
	mw := authMiddleware(cfg, nil)
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_UnrecognizedKey(t *testing.T) {
	cfg := Config{APIKeysByScope: map[string]string{"k1": "admin"}}
	mw := authMiddleware(cfg, nil)
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	req.Header.Set("X-API-Key", "unknown-key")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_ValidKeySetsCorrelationIDHeader(t *testing.T) {
	cfg := Config{APIKeysByScope: map[string]string{"k1": "admin"}}
	mw := authMiddleware(cfg, nil)
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	req.Header.Set("X-API-Key", "k1")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestAuthMiddleware_PreservesSuppliedCorrelationID(t *testing.T) {
	cfg := Config{APIKeysByScope: map[string]string{"k1": "admin"}}
	mw := authMiddleware(cfg, nil)
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	req.Header.Set("X-API-Key", "k1")
	req.Header.Set("X-Correlation-ID", "my-correlation-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, handler(c))
	assert.Equal(t, "my-correlation-id", rec.Header().Get("X-Correlation-ID"))
}

func TestRequireScope(t *testing.T) {
	tests := []struct {
		name       string
		scope      string
		need       string
		wantStatus int
	}{
		{"admin satisfies write", "admin", "write", http.StatusOK},
		{"write does not satisfy admin", "write", "admin", http.StatusForbidden},
		{"read satisfies read", "read", "read", http.StatusOK},
		{"no scope set", "", "read", http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mw := requireScope(tc.need)
			handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			ctx := platmw.WithScope(req.Context(), tc.scope)
			c.SetRequest(req.WithContext(ctx))

			require.NoError(t, handler(c))
			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}
