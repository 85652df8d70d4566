package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/muzlik-gm/Portfolio-sub000/internal/domain"
	"github.com/muzlik-gm/Portfolio-sub000/internal/platform/correlation"
)

const ctxKeyIdentity = "identity"

// requestIDMiddleware honours an incoming X-Request-Id, generates one
// otherwise and puts it on the request context for logging.
func requestIDMiddleware() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: correlation.NewID,
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := correlation.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	})
}

// requireAdmin verifies the bearer token and stores the identity on the
// echo context.
func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := s.verifier.Verify(c.Request().Context(), bearerToken(c.Request()))
		if err != nil {
			return err
		}

		c.Set(ctxKeyIdentity, identity)
		c.Set("userID", identity.UserID)
		return next(c)
	}
}

func identityFrom(c echo.Context) *domain.Identity {
	identity, _ := c.Get(ctxKeyIdentity).(*domain.Identity)
	return identity
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get(echo.HeaderAuthorization)
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
