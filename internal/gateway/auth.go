package gateway

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"fivecut/internal/identity"
	"fivecut/internal/services"
	"fivecut/internal/storage"
)

const (
	identityContextKey = "fivecut.identity"

	// tokenHeader supports clients that cannot set Authorization; the query
	// parameter supports cross-origin GETs without a preflight.
	tokenHeader = "X-Fivecut-Token"
	tokenQuery  = "token"
)

// authMiddleware resolves the caller's identity once per request and stores
// it on the echo context.
func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
		}
		ident, err := s.verifier.Verify(c.Request().Context(), token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		c.Set(identityContextKey, ident)
		return next(c)
	}
}

func bearerToken(c echo.Context) string {
	if auth := c.Request().Header.Get(echo.HeaderAuthorization); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	if token := c.Request().Header.Get(tokenHeader); token != "" {
		return token
	}
	return c.QueryParam(tokenQuery)
}

// callerIdentity returns the identity resolved by the auth middleware.
func callerIdentity(c echo.Context) *identity.Identity {
	ident, _ := c.Get(identityContextKey).(*identity.Identity)
	return ident
}

// authorizeKey enforces the owner-namespace invariant: a non-admin caller
// may only reference keys under users/<own-sub>/.
func authorizeKey(c echo.Context, key string) error {
	ident := callerIdentity(c)
	if ident == nil {
		return services.Wrap(services.ErrUnauthorized, "", "authorize", "no identity", nil)
	}
	if ident.Admin {
		return nil
	}
	owner, err := storage.OwnerFromKey(key)
	if err != nil || owner != ident.Subject {
		return services.Wrap(services.ErrForbidden, "", "authorize", "key outside caller namespace", nil)
	}
	return nil
}

// requireAdmin rejects non-admin callers.
func requireAdmin(c echo.Context) error {
	ident := callerIdentity(c)
	if ident == nil || !ident.Admin {
		return services.Wrap(services.ErrForbidden, "", "authorize", "admin required", nil)
	}
	return nil
}
