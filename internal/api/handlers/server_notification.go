package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"clientportal.io/portal/internal/feed"
)

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		badRequest(c, key+" must be a non-negative integer", err)
		return 0, false
	}
	return v, true
}

// ListNotifications handles GET /notifications?limit&offset&unread_only.
func (s *Server) ListNotifications(c *gin.Context) {
	userID, ok := userFromCtx(c)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset")
	if !ok {
		return
	}
	unreadOnly := false
	if raw := c.Query("unread_only"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "unread_only must be a boolean", err)
			return
		}
		unreadOnly = v
	}

	page, err := s.feed.List(c.Request.Context(), userID, feed.ListOptions{
		Limit:      limit,
		Offset:     offset,
		UnreadOnly: unreadOnly,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetUnreadCount handles GET /notifications/unread-count.
func (s *Server) GetUnreadCount(c *gin.Context) {
	userID, ok := userFromCtx(c)
	if !ok {
		return
	}
	count, err := s.feed.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkNotificationRead handles POST /notifications/:id/read.
func (s *Server) MarkNotificationRead(c *gin.Context) {
	userID, ok := userFromCtx(c)
	if !ok {
		return
	}
	if err := s.feed.MarkRead(c.Request.Context(), c.Param("id"), userID); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllNotificationsRead handles POST /notifications/read-all.
func (s *Server) MarkAllNotificationsRead(c *gin.Context) {
	userID, ok := userFromCtx(c)
	if !ok {
		return
	}
	n, err := s.feed.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}
