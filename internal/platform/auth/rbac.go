package auth

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
)

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. Administrators always pass.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := ActorFromContext(c.Request().Context())
			if actor.IsAdmin() {
				return next(c)
			}
			for _, required := range roles {
				if actor.HasRole(required) {
					return next(c)
				}
			}
			names := make([]string, len(roles))
			for i, r := range roles {
				names[i] = string(r)
			}
			return apierr.Forbidden(fmt.Sprintf("required role: %s", strings.Join(names, " or ")))
		}
	}
}

// RequireOperation returns middleware that authorizes the request's actor
// for op before the handler runs.
func RequireOperation(op Operation) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := Authorize(ActorFromContext(c.Request().Context()), op); err != nil {
				return apierr.Forbidden(err.Error())
			}
			return next(c)
		}
	}
}
