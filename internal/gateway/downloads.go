package gateway

import (
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"fivecut/internal/services"
)

// presignDownload hands out a short-lived direct download URL for a key the
// caller owns. `expires` is in seconds and capped; `attachment=1` forces a
// download disposition named after the key's basename.
func (s *Server) presignDownload(c echo.Context) error {
	key := c.Param("*")
	if key == "" {
		return services.Wrap(services.ErrValidation, "", "bind", "key required", nil)
	}
	if err := authorizeKey(c, key); err != nil {
		return err
	}

	expiry := defaultPresignExpiry
	if raw := c.QueryParam("expires"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 1 {
			return services.Wrap(services.ErrValidation, "", "bind", "invalid expires", err)
		}
		expiry = time.Duration(seconds) * time.Second
		if expiry > maxPresignExpiry {
			expiry = maxPresignExpiry
		}
	}

	filename := ""
	if c.QueryParam("attachment") == "1" || c.QueryParam("attachment") == "true" {
		filename = path.Base(key)
	}

	// Confirm the object exists so clients get a 404 instead of a signed
	// URL to nothing.
	if _, err := s.objects.Head(c.Request().Context(), key); err != nil {
		return err
	}

	url, err := s.objects.PresignGet(c.Request().Context(), key, expiry, filename)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"url": url})
}
