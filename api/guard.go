package api

import (
	"errors"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lumenauth/lumen/session"
)

// CookieName is the session cookie set on successful verification.
const CookieName = "lumen_session"

// identityKey is the echo context key holding the authenticated address.
const identityKey = "identity"

// ErrUnauthenticated means no usable session accompanied the request.
var ErrUnauthenticated = errors.New("api: unauthenticated")

// Guard is the per-request authentication middleware. It extracts the
// session cookie, authenticates it through the codec, and exposes the
// resolved identity to downstream handlers. Every failure is a plain 401;
// the reason is logged, never returned.
func (h *Handler) Guard(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := c.Cookie(CookieName)
		if err != nil || cookie.Value == "" {
			return h.unauthorized(c)
		}

		email, err := h.codec.Authenticate(cookie.Value)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrExpired):
				h.log.Info("session rejected", zap.String("reason", "expired"))
			case errors.Is(err, session.ErrBadSignature):
				h.log.Info("session rejected", zap.String("reason", "bad_signature"))
			default:
				h.log.Warn("session authentication failed", zap.Error(err))
			}
			return h.unauthorized(c)
		}

		c.Set(identityKey, email)
		return next(c)
	}
}

// Identity returns the authenticated address stored by the Guard.
func Identity(c echo.Context) (string, bool) {
	email, ok := c.Get(identityKey).(string)
	return email, ok && email != ""
}
