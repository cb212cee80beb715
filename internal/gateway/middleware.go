package gateway

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mnemonic-nexus/mnx/internal/platform/apierr"
	"github.com/mnemonic-nexus/mnx/internal/platform/authcache"
	platmw "github.com/mnemonic-nexus/mnx/internal/platform/middleware"
)

// authMiddleware resolves the X-API-Key header against the static
// api_keys_by_scope config, stores the resulting principal/scope on the
// request context, and enforces the per-key rate limit before the request
// reaches a handler.
func authMiddleware(cfg Config, limiter *authcache.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get("X-API-Key")
			if key == "" {
				return writeError(c, fmt.Errorf("%w: missing X-API-Key header", apierr.ErrAuth))
			}
			scope, ok := cfg.APIKeysByScope[key]
			if !ok {
				return writeError(c, fmt.Errorf("%w: unrecognized API key", apierr.ErrAuth))
			}

			if limiter != nil {
				allowed, err := limiter.Allow(c.Request().Context(), key, time.Now())
				if err != nil {
					return writeError(c, fmt.Errorf("%w: rate limit check failed: %v", apierr.ErrTransient, err))
				}
				if !allowed {
					return writeError(c, fmt.Errorf("%w: rate limit exceeded", apierr.ErrForbidden))
				}
			}

			ctx := platmw.WithPrincipal(c.Request().Context(), key)
			ctx = platmw.WithScope(ctx, scope)

			corrID := c.Request().Header.Get("X-Correlation-ID")
			if corrID == "" {
				id, err := uuid.NewV7()
				if err == nil {
					corrID = id.String()
				}
			}
			ctx = platmw.WithCorrelationID(ctx, corrID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Response().Header().Set("X-Correlation-ID", corrID)

			return next(c)
		}
	}
}

// requireScope enforces that the authenticated key's scope satisfies need,
// per scopeSatisfies's admin > write > read ordering.
func requireScope(need string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			scope, _ := platmw.GetScope(c.Request().Context())
			if !scopeSatisfies(scope, need) {
				return writeError(c, fmt.Errorf("%w: scope %q does not permit this operation", apierr.ErrForbidden, scope))
			}
			return next(c)
		}
	}
}

// writeError renders the spec §7 {code, message} error body with the
// status apierr.HTTPStatus assigns to err.
func writeError(c echo.Context, err error) error {
	return c.JSON(apierr.HTTPStatus(err), map[string]string{
		"code":    apierr.Code(err),
		"message": err.Error(),
	})
}
