package handlers

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/pkg/logger"
	"clientportal.io/portal/internal/provider/realtime"
)

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.origins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// StreamRealtime handles GET /realtime. It upgrades to a websocket that
// receives the caller's notification:new events.
func (s *Server) StreamRealtime(c *gin.Context) {
	userID, ok := userFromCtx(c)
	if !ok {
		return
	}
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "REALTIME_UNAVAILABLE",
			"message": "realtime stream is not configured",
		})
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logger.Debug("Websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stop := context.AfterFunc(s.lifecycle, cancel)
	defer stop()

	s.hub.ServeConn(ctx, conn, realtime.UserTopic(userID))
}
