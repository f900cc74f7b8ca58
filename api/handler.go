// Package api exposes the HTTP surface: magic-link issuance and
// verification, session introspection, and the per-user posts API.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lumenauth/lumen/flow"
	"github.com/lumenauth/lumen/session"
	"github.com/lumenauth/lumen/store"
)

type Handler struct {
	db              *gorm.DB
	issuer          *flow.Issuer
	verifier        *flow.Verifier
	codec           *session.Codec
	log             *zap.Logger
	sessionLifetime time.Duration
	secureCookies   bool
}

// NewHandler wires the HTTP handlers. secureCookies should be false only in
// local development over plain HTTP.
func NewHandler(db *gorm.DB, issuer *flow.Issuer, verifier *flow.Verifier, codec *session.Codec, log *zap.Logger, sessionLifetime time.Duration, secureCookies bool) *Handler {
	return &Handler{
		db:              db,
		issuer:          issuer,
		verifier:        verifier,
		codec:           codec,
		log:             log,
		sessionLifetime: sessionLifetime,
		secureCookies:   secureCookies,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/session/send-link", h.HandleSendLink)
	e.GET("/auth/verify", h.HandleVerify)
	e.GET("/api/session", h.HandleWhoAmI, h.Guard)
	e.POST("/api/session/logout", h.HandleLogout)

	posts := e.Group("/api/posts", h.Guard)
	posts.GET("", h.HandleListPosts)
	posts.POST("", h.HandleCreatePost)
	posts.POST("/upsert-many", h.HandleUpsertPosts)
	posts.DELETE("", h.HandleDeleteAllPosts)
	posts.GET("/:id", h.HandleReadPost)
	posts.PUT("/:id", h.HandleUpdatePost)
	posts.DELETE("/:id", h.HandleDeletePost)
}

// HandleSendLink issues a magic link for the posted address.
func (h *Handler) HandleSendLink(c echo.Context) error {
	var body struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "Inputs are invalid"})
	}

	err := h.issuer.IssueLink(c.Request().Context(), body.Email)
	switch {
	case errors.Is(err, flow.ErrInvalidEmail):
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid email"})
	case errors.Is(err, flow.ErrRateLimited):
		return c.JSON(http.StatusTooManyRequests, echo.Map{
			"message": "Wait a couple of minutes after requesting a link to try again.",
		})
	case err != nil:
		h.log.Error("link issuance failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Internal Server Error"})
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "success"})
}

// HandleVerify redeems the token from the magic link and establishes the
// session cookie.
func (h *Handler) HandleVerify(c echo.Context) error {
	identifier := c.QueryParam("token")
	if identifier == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid or expired link"})
	}

	value, err := h.verifier.Verify(c.Request().Context(), identifier)
	if err != nil {
		// Every redemption failure collapses to the same response.
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid or expired link"})
	}

	c.SetCookie(h.sessionCookie(value, h.sessionLifetime))
	return c.JSON(http.StatusOK, echo.Map{"message": "success"})
}

// HandleWhoAmI returns the authenticated user.
func (h *Handler) HandleWhoAmI(c echo.Context) error {
	email, ok := Identity(c)
	if !ok {
		return h.unauthorized(c)
	}

	user, err := store.UserByEmail(c.Request().Context(), h.db, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return h.unauthorized(c)
		}
		h.log.Error("user lookup failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Internal Server Error"})
	}

	return c.JSON(http.StatusOK, user)
}

// HandleLogout discards the session cookie. Sessions are stateless, so there
// is nothing to revoke server-side.
func (h *Handler) HandleLogout(c echo.Context) error {
	cookie := h.sessionCookie("", -time.Hour)
	cookie.MaxAge = -1
	c.SetCookie(cookie)
	return c.JSON(http.StatusOK, echo.Map{"message": "success"})
}

func (h *Handler) sessionCookie(value string, lifetime time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(lifetime.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *Handler) unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"message": "Unauthorized"})
}
