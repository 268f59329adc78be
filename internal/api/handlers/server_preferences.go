package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clientportal.io/portal/internal/preference"
)

// GetPreferences handles GET /preferences. First access creates the
// default preference.
func (s *Server) GetPreferences(c *gin.Context) {
	userID, ok := userFromCtx(c)
	if !ok {
		return
	}
	pref, err := s.preferences.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, pref)
}

// UpdatePreferences handles PATCH /preferences.
func (s *Server) UpdatePreferences(c *gin.Context) {
	userID, ok := userFromCtx(c)
	if !ok {
		return
	}
	var upd preference.Update
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, "invalid preference body", err)
		return
	}
	pref, err := s.preferences.Update(c.Request.Context(), userID, upd)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, pref)
}

// ResetPreferences handles POST /preferences/reset.
func (s *Server) ResetPreferences(c *gin.Context) {
	userID, ok := userFromCtx(c)
	if !ok {
		return
	}
	pref, err := s.preferences.ResetToDefaults(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, pref)
}
