package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/corkboard/internal/users"
	"github.com/gin-gonic/gin"
)

type usernameRequest struct {
	Username string `json:"username" binding:"required"`
}

type usernameResponse struct {
	Username string `json:"username"`
}

type backgroundRequest struct {
	Background string `json:"background"`
}

type backgroundResponse struct {
	Background string `json:"background"`
}

func (h *httpHandler) handleGetUsername(c *gin.Context) {
	username, found, err := h.users.Username(c.Request.Context())
	if err != nil {
		h.respondInternalError(c, "failed to load username", err)
		return
	}
	if !found {
		respondError(c, http.StatusNotFound, "username_not_set")
		return
	}
	c.JSON(http.StatusOK, usernameResponse{Username: username})
}

func (h *httpHandler) handleSetUsername(c *gin.Context) {
	var request usernameRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	validated, err := users.ValidateUsername(request.Username)
	switch {
	case errors.Is(err, users.ErrBlankUsername):
		respondError(c, http.StatusBadRequest, "username_blank")
		return
	case errors.Is(err, users.ErrUsernameTooLong):
		respondError(c, http.StatusBadRequest, "username_too_long")
		return
	}
	username, err := h.users.SetUsername(c.Request.Context(), validated)
	if err != nil {
		h.respondInternalError(c, "failed to store username", err)
		return
	}
	c.JSON(http.StatusOK, usernameResponse{Username: username})
}

func (h *httpHandler) handleClearUsername(c *gin.Context) {
	if err := h.users.ClearUsername(c.Request.Context()); err != nil {
		h.respondInternalError(c, "failed to clear username", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGetBackground(c *gin.Context) {
	background, _, err := h.forum.Background(c.Request.Context())
	if err != nil {
		h.respondInternalError(c, "failed to load background", err)
		return
	}
	c.JSON(http.StatusOK, backgroundResponse{Background: background})
}

// handleSetBackground treats a blank value as a request to clear the preference.
func (h *httpHandler) handleSetBackground(c *gin.Context) {
	var request backgroundRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	ctx := c.Request.Context()
	if err := h.forum.SetBackground(ctx, request.Background); err != nil {
		h.respondInternalError(c, "failed to store background", err)
		return
	}
	background, _, err := h.forum.Background(ctx)
	if err != nil {
		h.respondInternalError(c, "failed to load background", err)
		return
	}
	c.JSON(http.StatusOK, backgroundResponse{Background: background})
}

func (h *httpHandler) handleClearBackground(c *gin.Context) {
	if err := h.forum.ClearBackground(c.Request.Context()); err != nil {
		h.respondInternalError(c, "failed to clear background", err)
		return
	}
	c.Status(http.StatusNoContent)
}
