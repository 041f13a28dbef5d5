package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type heartbeatRequest struct {
	SessionID string `json:"session_id" binding:"omitempty,max=64"`
	Username  string `json:"username" binding:"required,notblank,max=20"`
}

type heartbeatResponse struct {
	SessionID   string `json:"session_id"`
	OnlineCount int    `json:"online_count"`
}

type presenceCountResponse struct {
	OnlineCount int `json:"online_count"`
}

func (h *httpHandler) handlePresenceCount(c *gin.Context) {
	count, err := h.presence.Count(c.Request.Context())
	if err != nil {
		h.respondInternalError(c, "failed to count presence", err)
		return
	}
	c.JSON(http.StatusOK, presenceCountResponse{OnlineCount: count})
}

// handlePresenceHeartbeat issues a session identifier on the first beat of a
// session; clients echo it back on later beats.
func (h *httpHandler) handlePresenceHeartbeat(c *gin.Context) {
	var request heartbeatRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	sessionID := strings.TrimSpace(request.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	count, err := h.presence.Heartbeat(c.Request.Context(), sessionID, strings.TrimSpace(request.Username))
	if err != nil {
		h.respondInternalError(c, "failed to record heartbeat", err)
		return
	}
	h.logger.Debug("presence heartbeat", zap.String("session_id", sessionID), zap.Int("online_count", count))
	c.JSON(http.StatusOK, heartbeatResponse{SessionID: sessionID, OnlineCount: count})
}

func (h *httpHandler) handlePresenceLeave(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		respondError(c, http.StatusBadRequest, "missing_session_id")
		return
	}
	if err := h.presence.Leave(c.Request.Context(), sessionID); err != nil {
		h.respondInternalError(c, "failed to leave presence", err)
		return
	}
	c.Status(http.StatusNoContent)
}
