// Package projectorsdk is the runtime shared by every concrete projector
// (relational, semantic, graph) and the EMO translator: an HTTP receiver
// that applies events idempotently, advances watermarks under CAS, exposes
// health/metrics, and offers admin snapshot/restore/rebuild operations
// (spec §4.4). It follows abc-service's transaction-boundary idiom
// (tx := pool.Begin → qtx/lens-scoped repos bound to tx → commit) and
// iam-service's Echo server wiring, generalized into a library any
// concrete lens can mount.
package projectorsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mnemonic-nexus/mnx/internal/envelope"
	"github.com/mnemonic-nexus/mnx/internal/platform/apierr"
	"github.com/mnemonic-nexus/mnx/internal/platform/canonicaljson"
	"github.com/mnemonic-nexus/mnx/internal/watermark"
)

// EventHandler applies one event to the lens inside the caller-managed
// transaction tx. Handlers must be UPSERT-shaped so repeated delivery of
// the same event converges to the same state.
type EventHandler func(ctx context.Context, tx pgx.Tx, event envelope.Enriched) error

// Lens is implemented by each concrete projector. Name identifies the
// projector for watermark ownership; Handlers maps event kind to the
// function that applies it (unrecognized kinds are accepted as a no-op so
// the watermark still advances); Snapshot produces the canonicalizable
// per-(world_id, branch) state used for the determinism hash; Truncate and
// RestorePayload back the admin rebuild/restore operations.
type Lens interface {
	Name() string
	Handlers() map[string]EventHandler
	Snapshot(ctx context.Context, tx pgx.Tx, worldID uuid.UUID, branch string) (interface{}, error)
	Truncate(ctx context.Context, tx pgx.Tx, worldID uuid.UUID, branch string) error
	RestorePayload(ctx context.Context, tx pgx.Tx, worldID uuid.UUID, branch string, payload json.RawMessage) error
}

// EventSource is the subset of eventstore.Store the rebuild operation
// needs to replay events from global_seq = 0.
type EventSource interface {
	ListRange(ctx context.Context, worldID uuid.UUID, branch string, afterSeq int64, limit int32) ([]envelope.Enriched, error)
}

// Counters holds the atomic counters backing GET /metrics and the periodic
// metrics tick's log line. They are not exported as OTel instruments, so
// this package has no OTel dependency.
type Counters struct {
	EventsReceived  int64
	EventsApplied   int64
	EventsRejected  int64
	IntegrityErrors int64
}

// Runtime wires a Lens into the HTTP receive/health/metrics/admin contract.
type Runtime struct {
	pool     *pgxpool.Pool
	lens     Lens
	source   EventSource
	logger   *zap.Logger
	counters Counters
	ticks    *cron.Cron
}

// New builds a Runtime for lens, backed by pool for transactions and
// source for the rebuild operation's replay.
func New(pool *pgxpool.Pool, lens Lens, source EventSource, logger *zap.Logger) *Runtime {
	return &Runtime{pool: pool, lens: lens, source: source, logger: logger}
}

// StartTicks registers the three periodic admin jobs spec §6's
// `health_interval_s`, `metrics_interval_s`, and `state_hash_interval_s`
// configure, using robfig/cron/v3 with seconds precision the same way the
// CDC Publisher's DLQSweep does. A non-positive interval disables that
// job. Each tick only logs — the HTTP /health and /metrics routes remain
// the pull-based surface spec §4.4 defines; these ticks give operators a
// push-based heartbeat in the logs without polling every projector.
func (r *Runtime) StartTicks(healthIntervalS, metricsIntervalS, stateHashIntervalS int) error {
	r.ticks = cron.New(cron.WithSeconds())
	if healthIntervalS > 0 {
		if _, err := r.ticks.AddFunc(everySpec(healthIntervalS), r.tickHealth); err != nil {
			return fmt.Errorf("register health tick: %w", err)
		}
	}
	if metricsIntervalS > 0 {
		if _, err := r.ticks.AddFunc(everySpec(metricsIntervalS), r.tickMetrics); err != nil {
			return fmt.Errorf("register metrics tick: %w", err)
		}
	}
	if stateHashIntervalS > 0 {
		if _, err := r.ticks.AddFunc(everySpec(stateHashIntervalS), r.tickStateHash); err != nil {
			return fmt.Errorf("register state-hash tick: %w", err)
		}
	}
	r.ticks.Start()
	return nil
}

// StopTicks stops the periodic jobs, blocking until any in-flight tick
// finishes, mirroring DLQSweep.Stop.
func (r *Runtime) StopTicks() {
	if r.ticks != nil {
		<-r.ticks.Stop().Done()
	}
}

func everySpec(seconds int) string {
	return fmt.Sprintf("@every %ds", seconds)
}

func (r *Runtime) tickHealth() {
	ctx := context.Background()
	var count int64
	row := r.pool.QueryRow(ctx, `SELECT count(*) FROM watermarks WHERE projector_name = $1`, r.lens.Name())
	if err := row.Scan(&count); err != nil {
		r.logger.Error("health tick: watermark count failed", zap.Error(err))
		return
	}
	r.logger.Info("projector health tick",
		zap.String("projector", r.lens.Name()),
		zap.Int64("watermark_count", count),
	)
}

func (r *Runtime) tickMetrics() {
	c := r.Snapshot()
	r.logger.Info("projector metrics tick",
		zap.String("projector", r.lens.Name()),
		zap.Int64("events_received_total", c.EventsReceived),
		zap.Int64("events_applied_total", c.EventsApplied),
		zap.Int64("events_rejected_total", c.EventsRejected),
		zap.Int64("integrity_errors_total", c.IntegrityErrors),
	)
}

// tickStateHash recomputes the determinism hash for every (world_id,
// branch) this projector has ever advanced, logging any branch whose
// freshly computed hash no longer matches the one stored at its last
// watermark advance — a cheap drift detector between full snapshot
// comparisons run via the admin API.
func (r *Runtime) tickStateHash() {
	ctx := context.Background()
	owned, err := watermark.New(r.pool).ListByProjector(ctx, r.lens.Name())
	if err != nil {
		r.logger.Error("state-hash tick: list watermarks failed", zap.Error(err))
		return
	}
	for _, w := range owned {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			r.logger.Error("state-hash tick: begin failed", zap.Error(err))
			continue
		}
		state, err := r.lens.Snapshot(ctx, tx, w.WorldID, w.Branch)
		if err != nil {
			tx.Rollback(ctx)
			r.logger.Error("state-hash tick: snapshot failed", zap.Error(err), zap.String("branch", w.Branch))
			continue
		}
		tx.Rollback(ctx)

		hash, err := canonicaljson.SHA256Hex(state)
		if err != nil {
			r.logger.Error("state-hash tick: hashing failed", zap.Error(err))
			continue
		}
		if w.DeterminismHash != "" && hash != w.DeterminismHash {
			r.logger.Warn("state-hash drift detected",
				zap.String("projector", r.lens.Name()),
				zap.String("world_id", w.WorldID.String()),
				zap.String("branch", w.Branch),
				zap.String("stored_hash", w.DeterminismHash),
				zap.String("computed_hash", hash),
			)
		}
	}
}

// Register mounts the receive, health, metrics, and admin routes on e.
func (r *Runtime) Register(e *echo.Echo) {
	e.POST("/events", r.handleReceive)
	e.GET("/health", r.handleHealth)
	e.GET("/metrics", r.handleMetrics)
	e.POST("/admin/:world_id/:branch/snapshot", r.handleSnapshot)
	e.POST("/admin/:world_id/:branch/restore", r.handleRestore)
	e.POST("/admin/:world_id/:branch/rebuild", r.handleRebuild)
}

// receiveRequest is the body the CDC publisher POSTs, per spec §4.3 step 2.
type receiveRequest struct {
	GlobalSeq   int64             `json:"global_seq"`
	EventID     uuid.UUID         `json:"event_id"`
	Envelope    envelope.Envelope `json:"envelope"`
	PayloadHash string            `json:"payload_hash"`
}

func (r *Runtime) handleReceive(c echo.Context) error {
	var req receiveRequest
	if err := c.Bind(&req); err != nil {
		atomic.AddInt64(&r.counters.EventsRejected, 1)
		return c.JSON(http.StatusBadRequest, errBody(apierr.ErrValidation, "malformed receive body"))
	}
	atomic.AddInt64(&r.counters.EventsReceived, 1)

	recomputed, err := canonicaljson.SHA256Hex(req.Envelope.Payload)
	if err != nil || recomputed != req.PayloadHash {
		atomic.AddInt64(&r.counters.IntegrityErrors, 1)
		r.logger.Warn("payload hash mismatch",
			zap.Int64("global_seq", req.GlobalSeq),
			zap.String("event_id", req.EventID.String()),
		)
		return c.JSON(http.StatusBadRequest, errBody(apierr.ErrIntegrity, "payload_hash mismatch"))
	}

	event := envelope.Enriched{
		Envelope:    req.Envelope,
		EventID:     req.EventID,
		GlobalSeq:   req.GlobalSeq,
		ReceivedAt:  time.Now().UTC(),
		PayloadHash: req.PayloadHash,
	}

	ctx := c.Request().Context()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrTransient, "could not start transaction"))
	}
	defer tx.Rollback(ctx)

	if handler, ok := r.lens.Handlers()[event.Kind]; ok {
		if err := handler(ctx, tx, event); err != nil {
			atomic.AddInt64(&r.counters.EventsRejected, 1)
			r.logger.Error("projector handler failed",
				zap.String("kind", event.Kind),
				zap.Int64("global_seq", event.GlobalSeq),
				zap.Error(err),
			)
			return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrProjector, "handler failed"))
		}
	}

	// The live path advances the watermark on every event but does not
	// recompute a real Snapshot-based determinism hash per event (that
	// would mean one full-state snapshot per delivered event). Advance
	// therefore overwrites the stored determinism hash with an empty
	// placeholder, the same one handleRebuild writes on its own intermediate
	// batch advances; tickStateHash and the admin snapshot endpoint are what
	// actually (re)compute it from r.lens.Snapshot.
	wm := watermark.New(tx)
	if _, err := wm.Advance(ctx, r.lens.Name(), event.WorldID, event.Branch, event.GlobalSeq, ""); err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrTransient, "watermark advance failed"))
	}

	if err := tx.Commit(ctx); err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrTransient, "commit failed"))
	}

	atomic.AddInt64(&r.counters.EventsApplied, 1)
	return c.NoContent(http.StatusOK)
}

type healthResponse struct {
	Projector      string `json:"projector"`
	Status         string `json:"status"`
	WatermarkCount int64  `json:"watermark_count"`
}

func (r *Runtime) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	var count int64
	row := r.pool.QueryRow(ctx, `SELECT count(*) FROM watermarks WHERE projector_name = $1`, r.lens.Name())
	_ = row.Scan(&count)
	return c.JSON(http.StatusOK, healthResponse{
		Projector:      r.lens.Name(),
		Status:         "ok",
		WatermarkCount: count,
	})
}

type metricsResponse struct {
	Projector       string `json:"projector"`
	EventsReceived  int64  `json:"events_received_total"`
	EventsApplied   int64  `json:"events_applied_total"`
	EventsRejected  int64  `json:"events_rejected_total"`
	IntegrityErrors int64  `json:"integrity_errors_total"`
}

func (r *Runtime) handleMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, metricsResponse{
		Projector:       r.lens.Name(),
		EventsReceived:  atomic.LoadInt64(&r.counters.EventsReceived),
		EventsApplied:   atomic.LoadInt64(&r.counters.EventsApplied),
		EventsRejected:  atomic.LoadInt64(&r.counters.EventsRejected),
		IntegrityErrors: atomic.LoadInt64(&r.counters.IntegrityErrors),
	})
}

// Snapshot exposes a read-only copy of the runtime's counters, used by the
// periodic metrics tick (tickMetrics) to log them.
func (r *Runtime) Snapshot() Counters {
	return Counters{
		EventsReceived:  atomic.LoadInt64(&r.counters.EventsReceived),
		EventsApplied:   atomic.LoadInt64(&r.counters.EventsApplied),
		EventsRejected:  atomic.LoadInt64(&r.counters.EventsRejected),
		IntegrityErrors: atomic.LoadInt64(&r.counters.IntegrityErrors),
	}
}

type snapshotResponse struct {
	Watermark       watermark.Watermark `json:"watermark"`
	DeterminismHash string              `json:"determinism_hash"`
	State           interface{}         `json:"state"`
}

func (r *Runtime) handleSnapshot(c echo.Context) error {
	worldID, branch, err := parseWorldBranch(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody(apierr.ErrValidation, err.Error()))
	}
	ctx := c.Request().Context()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrTransient, "could not start transaction"))
	}
	defer tx.Rollback(ctx)

	state, err := r.lens.Snapshot(ctx, tx, worldID, branch)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrProjector, "snapshot failed"))
	}
	detHash, err := canonicaljson.SHA256Hex(state)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrProjector, "hashing snapshot failed"))
	}

	wm := watermark.New(tx)
	w, err := wm.Get(ctx, r.lens.Name(), worldID, branch)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrTransient, "watermark read failed"))
	}

	return c.JSON(http.StatusOK, snapshotResponse{Watermark: w, DeterminismHash: detHash, State: state})
}

type restoreRequest struct {
	Payload         json.RawMessage `json:"payload"`
	LastProcessedSeq int64          `json:"last_processed_seq"`
	DeterminismHash  string         `json:"determinism_hash"`
}

func (r *Runtime) handleRestore(c echo.Context) error {
	worldID, branch, err := parseWorldBranch(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody(apierr.ErrValidation, err.Error()))
	}
	var req restoreRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errBody(apierr.ErrValidation, "malformed restore body"))
	}

	ctx := c.Request().Context()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrTransient, "could not start transaction"))
	}
	defer tx.Rollback(ctx)

	if err := r.lens.Truncate(ctx, tx, worldID, branch); err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrProjector, "truncate failed"))
	}
	if err := r.lens.RestorePayload(ctx, tx, worldID, branch, req.Payload); err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrProjector, "restore failed"))
	}

	wm := watermark.New(tx)
	if err := wm.Reset(ctx, r.lens.Name(), worldID, branch); err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrTransient, "watermark reset failed"))
	}
	if _, err := wm.Advance(ctx, r.lens.Name(), worldID, branch, req.LastProcessedSeq, req.DeterminismHash); err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrTransient, "watermark restore failed"))
	}

	if err := tx.Commit(ctx); err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrTransient, "commit failed"))
	}
	return c.NoContent(http.StatusOK)
}

// rebuildBatchSize bounds how many events handleRebuild reads per
// ListRange call while replaying from global_seq = 0.
const rebuildBatchSize = 500

func (r *Runtime) handleRebuild(c echo.Context) error {
	worldID, branch, err := parseWorldBranch(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody(apierr.ErrValidation, err.Error()))
	}
	ctx := c.Request().Context()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrTransient, "could not start transaction"))
	}
	defer tx.Rollback(ctx)

	if err := r.lens.Truncate(ctx, tx, worldID, branch); err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrProjector, "truncate failed"))
	}
	wm := watermark.New(tx)
	if err := wm.Reset(ctx, r.lens.Name(), worldID, branch); err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrTransient, "watermark reset failed"))
	}

	var lastSeq int64
	handlers := r.lens.Handlers()
	for {
		batch, err := r.source.ListRange(ctx, worldID, branch, lastSeq, rebuildBatchSize)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrTransient, "replay read failed"))
		}
		if len(batch) == 0 {
			break
		}
		for _, event := range batch {
			if handler, ok := handlers[event.Kind]; ok {
				if err := handler(ctx, tx, event); err != nil {
					return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrProjector, "replay handler failed"))
				}
			}
			lastSeq = event.GlobalSeq
		}
		if _, err := wm.Advance(ctx, r.lens.Name(), worldID, branch, lastSeq, ""); err != nil {
			return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrTransient, "watermark advance failed"))
		}
		if len(batch) < rebuildBatchSize {
			break
		}
	}

	state, err := r.lens.Snapshot(ctx, tx, worldID, branch)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrProjector, "post-rebuild snapshot failed"))
	}
	detHash, err := canonicaljson.SHA256Hex(state)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrProjector, "hashing snapshot failed"))
	}
	if _, err := wm.Advance(ctx, r.lens.Name(), worldID, branch, lastSeq, detHash); err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrTransient, "final watermark advance failed"))
	}

	if err := tx.Commit(ctx); err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(apierr.ErrTransient, "commit failed"))
	}
	return c.JSON(http.StatusOK, snapshotResponse{DeterminismHash: detHash, State: state})
}

func parseWorldBranch(c echo.Context) (uuid.UUID, string, error) {
	worldID, err := uuid.Parse(c.Param("world_id"))
	if err != nil {
		return uuid.UUID{}, "", fmt.Errorf("invalid world_id: %w", err)
	}
	branch := c.Param("branch")
	if branch == "" {
		return uuid.UUID{}, "", fmt.Errorf("branch is required")
	}
	return worldID, branch, nil
}

func errBody(err error, message string) map[string]string {
	return map[string]string{"code": apierr.Code(err), "message": message}
}
