package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/corkboard/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const adminContextKey = "corkboard_admin"

type adminLoginRequest struct {
	Password string `json:"password" binding:"required"`
}

type adminLoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type updateThreadRequest struct {
	Title   string `json:"title" binding:"required,notblank,max=100"`
	Content string `json:"content" binding:"required,notblank,max=2000"`
}

type updateReplyRequest struct {
	Content string `json:"content" binding:"required,notblank,max=1000"`
}

type blockedIPRequest struct {
	IP string `json:"ip" binding:"required,notblank"`
}

type blockedIPsResponse struct {
	BlockedIPs []string `json:"blocked_ips"`
}

func (h *httpHandler) handleAdminLogin(c *gin.Context) {
	var request adminLoginRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	session, err := h.admin.Login(request.Password)
	if errors.Is(err, auth.ErrInvalidPassword) {
		h.logger.Info("admin login rejected", zap.String("client_ip", c.ClientIP()))
		respondError(c, http.StatusUnauthorized, "invalid_password")
		return
	}
	if err != nil {
		h.respondInternalError(c, "failed to issue admin token", err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.admin.CookieName(), session.Token, h.admin.TokenTTLSeconds(), "/", "", false, true)
	c.JSON(http.StatusOK, adminLoginResponse{
		AccessToken: session.Token,
		ExpiresIn:   session.ExpiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleAdminLogout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.admin.CookieName(), "", -1, "/", "", false, true)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) authorizeAdmin(c *gin.Context) {
	if err := h.admin.AuthorizeRequest(c.Request); err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("admin token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("admin token validation failed", zap.Error(err))
		}
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	c.Set(adminContextKey, true)
	c.Next()
}

func (h *httpHandler) handleUpdateThread(c *gin.Context) {
	var request updateThreadRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	updated, err := h.forum.UpdateThread(ctx, id, strings.TrimSpace(request.Title), strings.TrimSpace(request.Content))
	if err != nil {
		h.respondInternalError(c, "failed to update thread", err)
		return
	}
	if !updated {
		respondError(c, http.StatusNotFound, "thread_not_found")
		return
	}
	thread, found, err := h.forum.Thread(ctx, id)
	if err != nil {
		h.respondInternalError(c, "failed to load thread", err)
		return
	}
	if !found {
		// Deleted between the update and the read.
		respondError(c, http.StatusNotFound, "thread_not_found")
		return
	}
	c.JSON(http.StatusOK, toThreadPayload(thread))
}

func (h *httpHandler) handleDeleteThread(c *gin.Context) {
	deleted, err := h.forum.DeleteThread(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondInternalError(c, "failed to delete thread", err)
		return
	}
	if !deleted {
		respondError(c, http.StatusNotFound, "thread_not_found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUpdateReply(c *gin.Context) {
	var request updateReplyRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	updated, err := h.forum.UpdateReply(c.Request.Context(), c.Param("id"), strings.TrimSpace(request.Content))
	if err != nil {
		h.respondInternalError(c, "failed to update reply", err)
		return
	}
	if !updated {
		respondError(c, http.StatusNotFound, "reply_not_found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteReply(c *gin.Context) {
	deleted, err := h.forum.DeleteReply(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondInternalError(c, "failed to delete reply", err)
		return
	}
	if !deleted {
		respondError(c, http.StatusNotFound, "reply_not_found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListBlockedIPs(c *gin.Context) {
	addresses, err := h.forum.BlockedIPs(c.Request.Context())
	if err != nil {
		h.respondInternalError(c, "failed to list blocked ips", err)
		return
	}
	c.JSON(http.StatusOK, blockedIPsResponse{BlockedIPs: addresses})
}

func (h *httpHandler) handleAddBlockedIP(c *gin.Context) {
	var request blockedIPRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	ctx := c.Request.Context()
	if err := h.forum.AddBlockedIP(ctx, request.IP); err != nil {
		h.respondInternalError(c, "failed to block ip", err)
		return
	}
	addresses, err := h.forum.BlockedIPs(ctx)
	if err != nil {
		h.respondInternalError(c, "failed to list blocked ips", err)
		return
	}
	c.JSON(http.StatusCreated, blockedIPsResponse{BlockedIPs: addresses})
}

func (h *httpHandler) handleRemoveBlockedIP(c *gin.Context) {
	if err := h.forum.RemoveBlockedIP(c.Request.Context(), c.Param("ip")); err != nil {
		h.respondInternalError(c, "failed to unblock ip", err)
		return
	}
	c.Status(http.StatusNoContent)
}
