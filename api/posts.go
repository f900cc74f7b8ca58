package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lumenauth/lumen/store"
)

// currentUser resolves the guard identity to a user row.
func (h *Handler) currentUser(c echo.Context) (*store.User, error) {
	email, ok := Identity(c)
	if !ok {
		return nil, ErrUnauthenticated
	}
	user, err := store.UserByEmail(c.Request().Context(), h.db, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	return user, nil
}

type postPayload struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Variant   string     `json:"variant"`
	CreatedAt *time.Time `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt"`
}

// HandleListPosts returns the user's posts with cursor pagination: posts
// updated at or after the "after" timestamp, newest first, plus a hasMore
// flag computed by over-fetching one row.
func (h *Handler) HandleListPosts(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return h.unauthorized(c)
	}

	limit := 10
	if raw := c.QueryParam("limit"); raw != "" {
		if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "Inputs are invalid"})
		}
	}
	if limit > 1000 {
		limit = 1000
	}
	if limit < 1 {
		limit = 1
	}

	q := h.db.WithContext(c.Request().Context()).
		Where("user_id = ?", user.ID).
		Order("updated_at DESC").
		Limit(limit + 1)

	if after := c.QueryParam("after"); after != "" {
		ts, err := time.Parse(time.RFC3339, after)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "Inputs are invalid"})
		}
		q = q.Where("updated_at >= ?", ts)
	}

	var posts []store.Post
	if err := q.Find(&posts).Error; err != nil {
		h.log.Error("listing posts failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Internal Server Error"})
	}

	hasMore := len(posts) > limit
	if hasMore {
		posts = posts[:limit]
	}

	return c.JSON(http.StatusOK, echo.Map{
		"items":   posts,
		"hasMore": hasMore,
	})
}

// HandleCreatePost inserts or updates a single post. Updates apply only when
// the supplied updatedAt is newer than the stored one, so stale offline
// writes never clobber fresher data.
func (h *Handler) HandleCreatePost(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return h.unauthorized(c)
	}

	var body postPayload
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "Inputs are invalid"})
	}

	if err := h.upsertPosts(c, user, []postPayload{body}); err != nil {
		h.log.Error("post upsert failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Internal Server Error"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"message": "success"})
}

// HandleUpsertPosts applies a batch of full post records with the same
// last-write-wins rule as single creation.
func (h *Handler) HandleUpsertPosts(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return h.unauthorized(c)
	}

	var body []postPayload
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "Inputs are invalid"})
	}
	if len(body) == 0 {
		return c.JSON(http.StatusOK, echo.Map{"message": "success"})
	}

	if err := h.upsertPosts(c, user, body); err != nil {
		h.log.Error("bulk post upsert failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "success"})
}

func (h *Handler) upsertPosts(c echo.Context, user *store.User, payloads []postPayload) error {
	now := time.Now().UTC().Truncate(time.Second)

	return h.db.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		for _, p := range payloads {
			id := p.ID
			if id == "" {
				id = uuid.New().String()
			}
			createdAt := now
			if p.CreatedAt != nil {
				createdAt = p.CreatedAt.UTC()
			}
			updatedAt := now
			if p.UpdatedAt != nil {
				updatedAt = p.UpdatedAt.UTC()
			}

			res := tx.Model(&store.Post{}).
				Where("id = ? AND user_id = ? AND updated_at < ?", id, user.ID, updatedAt).
				Updates(map[string]any{
					"content":    p.Content,
					"variant":    p.Variant,
					"updated_at": updatedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				continue
			}

			// No row updated: either the post does not exist yet, or the
			// stored copy is newer (or owned by someone else), in which
			// case the write is dropped.
			var count int64
			if err := tx.Model(&store.Post{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			post := store.Post{
				ID:        id,
				Content:   p.Content,
				Variant:   p.Variant,
				UserID:    user.ID,
				CreatedAt: createdAt,
				UpdatedAt: updatedAt,
			}
			if err := tx.Create(&post).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// HandleReadPost returns one post by ID.
func (h *Handler) HandleReadPost(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return h.unauthorized(c)
	}

	var post store.Post
	err = h.db.WithContext(c.Request().Context()).
		Where("id = ? AND user_id = ?", c.Param("id"), user.ID).
		First(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"message": "Post not found"})
		}
		h.log.Error("reading post failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Internal Server Error"})
	}

	return c.JSON(http.StatusOK, post)
}

// HandleUpdatePost updates a post's content when the supplied updatedAt is
// newer than the stored one.
func (h *Handler) HandleUpdatePost(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return h.unauthorized(c)
	}

	var body struct {
		Content   string     `json:"content"`
		UpdatedAt *time.Time `json:"updatedAt"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "Inputs are invalid"})
	}

	updatedAt := time.Now().UTC().Truncate(time.Second)
	if body.UpdatedAt != nil {
		updatedAt = body.UpdatedAt.UTC()
	}

	res := h.db.WithContext(c.Request().Context()).Model(&store.Post{}).
		Where("id = ? AND user_id = ? AND updated_at < ?", c.Param("id"), user.ID, updatedAt).
		Updates(map[string]any{
			"content":    body.Content,
			"updated_at": updatedAt,
		})
	if res.Error != nil {
		h.log.Error("updating post failed", zap.Error(res.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Internal Server Error"})
	}
	if res.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{
			"message": "Post not found or supplied updatedAt is older than existing",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "success"})
}

// HandleDeletePost removes one post.
func (h *Handler) HandleDeletePost(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return h.unauthorized(c)
	}

	res := h.db.WithContext(c.Request().Context()).
		Where("id = ? AND user_id = ?", c.Param("id"), user.ID).
		Delete(&store.Post{})
	if res.Error != nil {
		h.log.Error("deleting post failed", zap.Error(res.Error))
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Internal Server Error"})
	}
	if res.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"message": "Post not found"})
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "success"})
}

// HandleDeleteAllPosts removes every post owned by the user.
func (h *Handler) HandleDeleteAllPosts(c echo.Context) error {
	user, err := h.currentUser(c)
	if err != nil {
		return h.unauthorized(c)
	}

	err = h.db.WithContext(c.Request().Context()).
		Where("user_id = ?", user.ID).
		Delete(&store.Post{}).Error
	if err != nil {
		h.log.Error("deleting posts failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "Internal Server Error"})
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "success"})
}
