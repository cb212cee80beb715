package projectorsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRuntime() *Runtime {
	return New(nil, nil, nil, zap.NewNop())
}

// fakeLens is a minimal Lens stub, only used to give StartTicks a
// non-nil lens.Name() to log against; its other methods are never
// reached by the lifecycle tests below.
type fakeLens struct{}

func (fakeLens) Name() string                             { return "fake" }
func (fakeLens) Handlers() map[string]EventHandler         { return nil }
func (fakeLens) Snapshot(context.Context, pgx.Tx, uuid.UUID, string) (interface{}, error) {
	return nil, nil
}
func (fakeLens) Truncate(context.Context, pgx.Tx, uuid.UUID, string) error { return nil }
func (fakeLens) RestorePayload(context.Context, pgx.Tx, uuid.UUID, string, json.RawMessage) error {
	return nil
}

var _ Lens = fakeLens{}

func TestHandleReceive_MalformedBody(t *testing.T) {
	r := newTestRuntime()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{not json`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, r.handleReceive(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.EqualValues(t, 1, r.counters.EventsRejected)
}

func TestHandleReceive_PayloadHashMismatch(t *testing.T) {
	r := newTestRuntime()
	e := echo.New()
	body := `{"global_seq":1,"event_id":"11111111-1111-1111-1111-111111111111","envelope":{"world_id":"22222222-2222-2222-2222-222222222222","branch":"main","kind":"note.created","payload":{"a":1}},"payload_hash":"not-the-real-hash"}`
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, r.handleReceive(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.EqualValues(t, 1, r.counters.IntegrityErrors)
}

func TestHandleSnapshot_InvalidWorldID(t *testing.T) {
	r := newTestRuntime()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/admin/bad/main/snapshot", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("world_id", "branch")
	c.SetParamValues("bad", "main")

	require.NoError(t, r.handleSnapshot(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRestore_MissingBranch(t *testing.T) {
	r := newTestRuntime()
	e := echo.New()
	worldID := "11111111-1111-1111-1111-111111111111"
	req := httptest.NewRequest(http.MethodPost, "/admin/"+worldID+"//restore", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("world_id", "branch")
	c.SetParamValues(worldID, "")

	require.NoError(t, r.handleRestore(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRebuild_InvalidWorldID(t *testing.T) {
	r := newTestRuntime()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/admin/bad/main/rebuild", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("world_id", "branch")
	c.SetParamValues("bad", "main")

	require.NoError(t, r.handleRebuild(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMetrics(t *testing.T) {
	r := newTestRuntime()
	r.counters.EventsReceived = 5
	r.counters.EventsApplied = 4
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, r.handleMetrics(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"events_received_total":5`)
}

func TestSnapshot_ReturnsCounterCopy(t *testing.T) {
	r := newTestRuntime()
	r.counters.EventsApplied = 3
	snap := r.Snapshot()
	assert.EqualValues(t, 3, snap.EventsApplied)
}

func TestStartTicks_ZeroIntervalsRegisterNoJobs(t *testing.T) {
	r := New(nil, fakeLens{}, nil, zap.NewNop())
	require.NoError(t, r.StartTicks(0, 0, 0))
	assert.Empty(t, r.ticks.Entries())
	r.StopTicks()
}

func TestStartTicks_PositiveIntervalsRegisterJobs(t *testing.T) {
	r := New(nil, fakeLens{}, nil, zap.NewNop())
	require.NoError(t, r.StartTicks(30, 60, 300))
	assert.Len(t, r.ticks.Entries(), 3)
	r.StopTicks()
}

func TestStopTicks_NilIsNoOp(t *testing.T) {
	r := New(nil, fakeLens{}, nil, zap.NewNop())
	r.StopTicks()
}

// handleHealth, tickHealth, tickStateHash, and every admin operation's
// successful path go through the pgxpool.Pool directly and are exercised
// by integration tests rather than here.
