package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/api/middleware"
	"clientportal.io/portal/internal/domain"
	apperrors "clientportal.io/portal/internal/pkg/errors"
	"clientportal.io/portal/internal/pkg/logger"
)

// FlushDigests handles POST /admin/digests/flush.
func (s *Server) FlushDigests(c *gin.Context) {
	if s.digest == nil {
		_ = c.Error(apperrors.New(apperrors.CodeDigestFlushFailed, "digest scheduler is not configured", http.StatusServiceUnavailable))
		return
	}
	res, err := s.digest.Flush(c.Request.Context())
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeDigestFlushFailed, "digest flush failed", http.StatusInternalServerError))
		return
	}
	logger.Info("Digest flush triggered via API",
		zap.String("actor", middleware.GetUserID(c.Request.Context())),
		zap.Int("delivered", res.Delivered),
	)
	c.JSON(http.StatusOK, gin.H{
		"due":       res.Due,
		"delivered": res.Delivered,
		"skipped":   res.Skipped,
		"failed":    res.Failed,
	})
}

type contactRequest struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"emailVerified"`
}

// UpsertContact handles PUT /admin/contacts/:userId. The identity service
// pushes recipient addresses here.
func (s *Server) UpsertContact(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userId"))
	if userID == "" {
		badRequest(c, "userId is required", nil)
		return
	}
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid contact body", err)
		return
	}
	contact := domain.Contact{
		UserID:        userID,
		Email:         strings.TrimSpace(req.Email),
		Name:          strings.TrimSpace(req.Name),
		EmailVerified: req.EmailVerified,
	}
	if err := s.contacts.UpsertContact(c.Request.Context(), contact); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, contact)
}
