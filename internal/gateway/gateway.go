// Package gateway implements the HTTP ingress for MNX: envelope
// validation and append, range reads, branch registration, and admin
// fan-out to the registered projectors (spec §6). It follows iam-service's
// Echo wiring (otelecho → zap request logger → Recover) with an added
// auth/rate-limit layer in place of the APISIX-delegated authz the teacher
// relies on, since MNX's Gateway is its own edge rather than sitting behind
// a shared API gateway.
package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mnemonic-nexus/mnx/internal/branch"
	"github.com/mnemonic-nexus/mnx/internal/envelope"
	"github.com/mnemonic-nexus/mnx/internal/eventstore"
	"github.com/mnemonic-nexus/mnx/internal/platform/apierr"
	"github.com/mnemonic-nexus/mnx/internal/platform/authcache"
	"github.com/mnemonic-nexus/mnx/internal/platform/httpclient"
	platmw "github.com/mnemonic-nexus/mnx/internal/platform/middleware"
	"github.com/mnemonic-nexus/mnx/internal/watermark"
)

// Server wires the event store, branch registry, watermark store, and
// admin proxy client behind the routes spec §6 names.
type Server struct {
	cfg       Config
	store     *eventstore.Store
	branches  *branch.Registry
	watermark *watermark.Store
	limiter   *authcache.RateLimiter
	admin     *httpclient.Client
	logger    *zap.Logger
}

// New builds a Server. watermarkStore is bound directly to the shared pool
// (watermark.Store accepts any db.DBTX, and *pgxpool.Pool satisfies it) so
// admin/health reads never need to open a transaction of their own.
func New(cfg Config, store *eventstore.Store, branches *branch.Registry, watermarkStore *watermark.Store, limiter *authcache.RateLimiter, logger *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		branches:  branches,
		watermark: watermarkStore,
		limiter:   limiter,
		admin:     httpclient.New(15 * time.Second),
		logger:    logger,
	}
}

// Register mounts every Gateway route on e, behind the auth/rate-limit
// middleware.
func (s *Server) Register(e *echo.Echo) {
	g := e.Group("", authMiddleware(s.cfg, s.limiter))

	g.POST("/v1/events", s.handleAppendEvent, requireScope("write"))
	g.GET("/v1/events/:id", s.handleGetEvent, requireScope("read"))
	g.GET("/v1/events", s.handleListEvents, requireScope("read"))

	g.POST("/v1/branches", s.handleCreateBranch, requireScope("write"))
	g.GET("/v1/branches", s.handleListBranches, requireScope("read"))
	g.GET("/v1/branches/:name", s.handleGetBranch, requireScope("read"))

	g.GET("/v1/admin/health", s.handleAdminHealth, requireScope("admin"))
	g.POST("/v1/admin/projectors/:lens/:op", s.handleAdminProjectorOp, requireScope("admin"))
}

// handleAppendEvent validates and appends a client-submitted envelope
// (spec §4.2).
func (s *Server) handleAppendEvent(c echo.Context) error {
	ctx := c.Request().Context()

	var env envelope.Envelope
	if err := c.Bind(&env); err != nil {
		return writeError(c, fmt.Errorf("%w: malformed request body: %v", apierr.ErrValidation, err))
	}

	headerKey := c.Request().Header.Get("Idempotency-Key")
	key, err := envelope.ResolveIdempotencyKey(headerKey, env.IdempotencyKey)
	if err != nil {
		return writeError(c, fmt.Errorf("%w: %v", apierr.ErrValidation, err))
	}
	env.IdempotencyKey = key

	if s.cfg.requiresIdempotency(env.Kind) && env.IdempotencyKey == "" {
		return writeError(c, fmt.Errorf("%w: kind %q requires an idempotency key", apierr.ErrValidation, env.Kind))
	}

	if err := env.Validate(); err != nil {
		return writeError(c, fmt.Errorf("%w: %v", apierr.ErrValidation, err))
	}

	if corrID, ok := platmw.GetCorrelationID(ctx); ok && corrID != "" {
		s.logger.Debug("appending event", zap.String("correlation_id", corrID), zap.String("kind", env.Kind))
	}

	result, err := s.store.Append(ctx, env)
	if err != nil {
		var dup *eventstore.DuplicateIdempotencyKeyError
		if asDuplicateError(err, &dup) {
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"code":       apierr.Code(apierr.ErrConflict),
				"message":    err.Error(),
				"event_id":   dup.Existing.EventID,
				"global_seq": dup.Existing.GlobalSeq,
				"received_at": dup.Existing.ReceivedAt,
			})
		}
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, result.Event)
}

func asDuplicateError(err error, target **eventstore.DuplicateIdempotencyKeyError) bool {
	d, ok := err.(*eventstore.DuplicateIdempotencyKeyError)
	if !ok {
		return false
	}
	*target = d
	return true
}

// handleGetEvent looks up a single event by (world_id, event id).
func (s *Server) handleGetEvent(c echo.Context) error {
	ctx := c.Request().Context()

	worldID, err := uuid.Parse(c.QueryParam("world_id"))
	if err != nil {
		return writeError(c, fmt.Errorf("%w: world_id query parameter is required and must be a UUID", apierr.ErrValidation))
	}
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeError(c, fmt.Errorf("%w: invalid event id", apierr.ErrValidation))
	}

	ev, err := s.store.GetByID(ctx, worldID, eventID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, ev)
}

// handleListEvents serves the range-read endpoint used by out-of-band
// catch-up consumers (spec §6): ?world_id=&branch=&from_seq=&limit=.
func (s *Server) handleListEvents(c echo.Context) error {
	ctx := c.Request().Context()

	worldID, err := uuid.Parse(c.QueryParam("world_id"))
	if err != nil {
		return writeError(c, fmt.Errorf("%w: world_id query parameter is required and must be a UUID", apierr.ErrValidation))
	}
	branchName := c.QueryParam("branch")
	if branchName == "" {
		return writeError(c, fmt.Errorf("%w: branch query parameter is required", apierr.ErrValidation))
	}

	fromSeq := parseInt64(c.QueryParam("from_seq"), 0)
	limit := int32(parseInt64(c.QueryParam("limit"), 500))
	if limit <= 0 || limit > 2000 {
		limit = 500
	}

	events, err := s.store.ListRange(ctx, worldID, branchName, fromSeq, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": events})
}

// handleCreateBranch registers a new (world_id, name) namespace.
func (s *Server) handleCreateBranch(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		WorldID      uuid.UUID `json:"world_id"`
		Name         string    `json:"name"`
		ParentBranch string    `json:"parent_branch"`
		Metadata     []byte    `json:"metadata"`
	}
	if err := c.Bind(&req); err != nil {
		return writeError(c, fmt.Errorf("%w: malformed request body: %v", apierr.ErrValidation, err))
	}

	principal, _ := platmw.GetPrincipal(ctx)
	b, err := s.branches.Create(ctx, branch.CreateParams{
		WorldID:      req.WorldID,
		Name:         req.Name,
		ParentBranch: req.ParentBranch,
		CreatedBy:    principal,
		Metadata:     req.Metadata,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// handleListBranches returns every branch registered for a world.
func (s *Server) handleListBranches(c echo.Context) error {
	ctx := c.Request().Context()
	worldID, err := uuid.Parse(c.QueryParam("world_id"))
	if err != nil {
		return writeError(c, fmt.Errorf("%w: world_id query parameter is required and must be a UUID", apierr.ErrValidation))
	}
	branches, err := s.branches.List(ctx, worldID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"branches": branches})
}

// handleGetBranch fetches a single branch by name.
func (s *Server) handleGetBranch(c echo.Context) error {
	ctx := c.Request().Context()
	worldID, err := uuid.Parse(c.QueryParam("world_id"))
	if err != nil {
		return writeError(c, fmt.Errorf("%w: world_id query parameter is required and must be a UUID", apierr.ErrValidation))
	}
	b, err := s.branches.Get(ctx, worldID, c.Param("name"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// adminHealthLens is the per-projector entry in the admin/health response:
// each registered lens's consumption cursor for the requested
// (world_id, branch), alongside the log's current head so an operator can
// see projector lag at a glance.
type adminHealthLens struct {
	Lens             string `json:"lens"`
	LastProcessedSeq int64  `json:"last_processed_seq"`
	DeterminismHash  string `json:"determinism_hash"`
	LagEvents        int64  `json:"lag_events"`
}

// handleAdminHealth reports the log head and every registered projector's
// watermark for a (world_id, branch), the cross-lens view spec §6's
// GET /v1/admin/health calls for.
func (s *Server) handleAdminHealth(c echo.Context) error {
	ctx := c.Request().Context()
	worldID, err := uuid.Parse(c.QueryParam("world_id"))
	if err != nil {
		return writeError(c, fmt.Errorf("%w: world_id query parameter is required and must be a UUID", apierr.ErrValidation))
	}
	branchName := c.QueryParam("branch")
	if branchName == "" {
		return writeError(c, fmt.Errorf("%w: branch query parameter is required", apierr.ErrValidation))
	}

	headSeq, err := s.store.Head(ctx, worldID, branchName)
	if err != nil {
		return writeError(c, err)
	}

	lenses := make([]adminHealthLens, 0, len(s.cfg.ProjectorEndpoints))
	for lens := range s.cfg.ProjectorEndpoints {
		w, err := s.watermark.Get(ctx, lens, worldID, branchName)
		if err != nil {
			return writeError(c, err)
		}
		if w.LastProcessedSeq > headSeq {
			headSeq = w.LastProcessedSeq
		}
		lenses = append(lenses, adminHealthLens{
			Lens:             lens,
			LastProcessedSeq: w.LastProcessedSeq,
			DeterminismHash:  w.DeterminismHash,
		})
	}
	for i := range lenses {
		lenses[i].LagEvents = headSeq - lenses[i].LastProcessedSeq
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"world_id":   worldID,
		"branch":     branchName,
		"global_seq": headSeq,
		"projectors": lenses,
	})
}

// handleAdminProjectorOp proxies POST /v1/admin/projectors/{lens}/{op} to
// the owning projector's own admin endpoint
// (admin/{world_id}/{branch}/{op}), the same contract the Projector SDK's
// Runtime.Register exposes directly on each projector service.
func (s *Server) handleAdminProjectorOp(c echo.Context) error {
	ctx := c.Request().Context()

	lens := c.Param("lens")
	op := c.Param("op")
	switch op {
	case "snapshot", "restore", "rebuild":
	default:
		return writeError(c, fmt.Errorf("%w: unknown admin operation %q", apierr.ErrValidation, op))
	}

	base, ok := s.cfg.ProjectorEndpoints[lens]
	if !ok {
		return writeError(c, fmt.Errorf("%w: unknown projector lens %q", apierr.ErrValidation, lens))
	}

	worldID := c.QueryParam("world_id")
	branchName := c.QueryParam("branch")
	if worldID == "" || branchName == "" {
		return writeError(c, fmt.Errorf("%w: world_id and branch query parameters are required", apierr.ErrValidation))
	}

	var body interface{}
	if op == "restore" {
		if err := c.Bind(&body); err != nil {
			return writeError(c, fmt.Errorf("%w: malformed request body: %v", apierr.ErrValidation, err))
		}
	} else {
		body = map[string]string{}
	}

	url := fmt.Sprintf("%s/admin/%s/%s/%s", base, worldID, branchName, op)
	resp, err := s.admin.PostJSON(ctx, url, body, nil)
	if err != nil {
		return writeError(c, fmt.Errorf("%w: proxying to %s projector: %v", apierr.ErrTransient, lens, err))
	}
	if resp.Failed() {
		return c.JSONBlob(resp.StatusCode, resp.Body)
	}
	return c.JSONBlob(http.StatusOK, resp.Body)
}

func parseInt64(s string, def int64) int64 {
	if s == "" {
		return def
	}
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return def
	}
	return v
}
