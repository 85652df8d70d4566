package httpserver

import (
	"errors"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
	apperrors "github.com/muzlik-gm/Portfolio-sub000/internal/platform/errors"
)

// handleWebSocket upgrades the request and hands the socket to the least
// loaded broadcaster. Authentication happens after the upgrade so browsers
// see the 4001/4003 close codes; the token comes from ?token= or the
// Authorization header.
func (s *Server) handleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		token = bearerToken(c.Request())
	}

	instance, err := s.pool.Acquire()
	if err != nil {
		return apperrors.UnavailableError("no broadcast capacity", err)
	}

	socket, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		slog.DebugContext(c.Request().Context(), "WebSocket upgrade failed", "error", err)
		return nil
	}

	err = instance.Serve(c.Request().Context(), socket, token)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrMissingToken), errors.Is(err, domain.ErrInvalidToken), errors.Is(err, domain.ErrNotAdmin):
		// Rejected with a close frame; already counted and logged.
	default:
		slog.WarnContext(c.Request().Context(), "WebSocket session ended with error", "instance_id", instance.ID(), "error", err)
	}
	return nil
}
