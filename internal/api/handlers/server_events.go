package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"clientportal.io/portal/internal/api/middleware"
	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/notification"
)

// dispatchRequest is a domain.Event plus an optional recipient list for
// fan-out to several users.
type dispatchRequest struct {
	domain.Event
	RecipientUserIDs []string `json:"recipientUserIds,omitempty"`
}

// batchDispatchResponse reports a multi-recipient dispatch.
type batchDispatchResponse struct {
	Results map[string]*notification.Result `json:"results"`
	Failed  []string                        `json:"failed"`
}

// DispatchEvent handles POST /events.
//
// A single recipient returns 201 with the dispatch result, or 200 when the
// idempotency key was already used. Several recipients return 200 when all
// succeeded and 207 when some failed.
func (s *Server) DispatchEvent(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid event body", err)
		return
	}

	middleware.RequestLogger(c.Request.Context()).Debug("Notification event received",
		zap.String("category", string(req.Category)),
		zap.Int("recipients", max(len(req.RecipientUserIDs), 1)),
	)

	if len(req.RecipientUserIDs) > 0 {
		s.dispatchMany(c, req)
		return
	}

	res, err := s.dispatcher.Dispatch(c.Request.Context(), req.Event)
	if err != nil {
		_ = c.Error(err)
		return
	}
	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (s *Server) dispatchMany(c *gin.Context, req dispatchRequest) {
	seen := make(map[string]struct{}, len(req.RecipientUserIDs))
	recipients := make([]string, 0, len(req.RecipientUserIDs))
	for _, id := range req.RecipientUserIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			badRequest(c, "recipientUserIds must not contain empty ids", nil)
			return
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		recipients = append(recipients, id)
	}

	// The event is shared by every recipient, so a bad one fails them all.
	shared := req.Event
	shared.RecipientUserID = recipients[0]
	if err := notification.ValidateEvent(shared); err != nil {
		_ = c.Error(err)
		return
	}

	results, err := s.triggers.DispatchToMany(c.Request.Context(), recipients, req.Event)
	resp := batchDispatchResponse{Results: results, Failed: []string{}}
	for _, id := range recipients {
		if _, ok := results[id]; !ok {
			resp.Failed = append(resp.Failed, id)
		}
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
	}
	c.JSON(status, resp)
}
