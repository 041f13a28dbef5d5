package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/embed"
	"github.com/MarcoPoloResearchLab/corkboard/internal/forum"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

type threadPayload struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	Author         string           `json:"author"`
	Content        string           `json:"content"`
	CreatedAt      string           `json:"created_at"`
	LastActivityAt string           `json:"last_activity_at"`
	ReplyCount     int              `json:"reply_count"`
	Rendered       *renderedPayload `json:"rendered,omitempty"`
}

type replyPayload struct {
	ID        string           `json:"id"`
	ThreadID  string           `json:"thread_id"`
	Author    string           `json:"author"`
	Content   string           `json:"content"`
	CreatedAt string           `json:"created_at"`
	Rendered  *renderedPayload `json:"rendered,omitempty"`
}

type renderedPayload struct {
	Text   string        `json:"text"`
	Embeds []embed.Embed `json:"embeds"`
	HTML   string        `json:"html"`
}

type threadListResponse struct {
	Threads []threadPayload `json:"threads"`
}

type threadDetailResponse struct {
	Thread  threadPayload  `json:"thread"`
	Replies []replyPayload `json:"replies"`
}

type createThreadRequest struct {
	Title   string `json:"title" binding:"required,notblank,max=100"`
	Content string `json:"content" binding:"required,notblank,max=2000"`
	Author  string `json:"author" binding:"omitempty,max=20"`
}

type createReplyRequest struct {
	Content string `json:"content" binding:"required,notblank,max=1000"`
	Author  string `json:"author" binding:"omitempty,max=20"`
}

func (h *httpHandler) handleListThreads(c *gin.Context) {
	threads, err := h.forum.Threads(c.Request.Context())
	if err != nil {
		h.respondInternalError(c, "failed to list threads", err)
		return
	}
	c.JSON(http.StatusOK, threadListResponse{Threads: toThreadPayloads(threads)})
}

func (h *httpHandler) handleLatestThreads(c *gin.Context) {
	limit := h.latestLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(c, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = parsed
	}
	threads, err := h.forum.LatestThreads(c.Request.Context(), limit)
	if err != nil {
		h.respondInternalError(c, "failed to list latest threads", err)
		return
	}
	c.JSON(http.StatusOK, threadListResponse{Threads: toThreadPayloads(threads)})
}

func (h *httpHandler) handleGetThread(c *gin.Context) {
	ctx := c.Request.Context()
	thread, found, err := h.forum.Thread(ctx, c.Param("id"))
	if err != nil {
		h.respondInternalError(c, "failed to load thread", err)
		return
	}
	if !found {
		respondError(c, http.StatusNotFound, "thread_not_found")
		return
	}
	replies, err := h.forum.Replies(ctx, thread.ID)
	if err != nil {
		h.respondInternalError(c, "failed to load replies", err)
		return
	}

	response := threadDetailResponse{
		Thread:  toThreadPayload(thread),
		Replies: make([]replyPayload, 0, len(replies)),
	}
	response.Thread.Rendered = render(thread.Content)
	for _, reply := range replies {
		payload := toReplyPayload(reply)
		payload.Rendered = render(reply.Content)
		response.Replies = append(response.Replies, payload)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCreateThread(c *gin.Context) {
	var request createThreadRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	author, ok := h.resolveAuthor(c, request.Author)
	if !ok {
		return
	}
	thread, err := h.forum.CreateThread(c.Request.Context(), strings.TrimSpace(request.Title), strings.TrimSpace(request.Content), author)
	if err != nil {
		h.respondInternalError(c, "failed to create thread", err)
		return
	}
	c.JSON(http.StatusCreated, toThreadPayload(thread))
}

// handleCreateReply does not check that the parent exists; the repository keeps
// orphaned replies and logs them.
func (h *httpHandler) handleCreateReply(c *gin.Context) {
	var request createReplyRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	author, ok := h.resolveAuthor(c, request.Author)
	if !ok {
		return
	}
	reply, err := h.forum.CreateReply(c.Request.Context(), c.Param("id"), strings.TrimSpace(request.Content), author)
	if err != nil {
		h.respondInternalError(c, "failed to create reply", err)
		return
	}
	c.JSON(http.StatusCreated, toReplyPayload(reply))
}

// resolveAuthor prefers the author named in the request and falls back to the
// stored profile username.
func (h *httpHandler) resolveAuthor(c *gin.Context, requested string) (string, bool) {
	if author := strings.TrimSpace(requested); author != "" {
		return author, true
	}
	username, found, err := h.users.Username(c.Request.Context())
	if err != nil {
		h.respondInternalError(c, "failed to load username", err)
		return "", false
	}
	if !found {
		h.logger.Debug("post rejected without username", zap.String("path", c.FullPath()))
		respondError(c, http.StatusBadRequest, "username_required")
		return "", false
	}
	return username, true
}

func render(content string) *renderedPayload {
	parsed := embed.Parse(content)
	return &renderedPayload{
		Text:   parsed.Text,
		Embeds: parsed.Embeds,
		HTML:   embed.RenderHTML(parsed),
	}
}

func toThreadPayloads(threads []forum.Thread) []threadPayload {
	payloads := make([]threadPayload, 0, len(threads))
	for _, thread := range threads {
		payloads = append(payloads, toThreadPayload(thread))
	}
	return payloads
}

func toThreadPayload(thread forum.Thread) threadPayload {
	return threadPayload{
		ID:             thread.ID,
		Title:          thread.Title,
		Author:         thread.Author,
		Content:        thread.Content,
		CreatedAt:      formatTimestamp(thread.CreatedAt),
		LastActivityAt: formatTimestamp(thread.LastActivityAt),
		ReplyCount:     thread.ReplyCount,
	}
}

func toReplyPayload(reply forum.Reply) replyPayload {
	return replyPayload{
		ID:        reply.ID,
		ThreadID:  reply.ThreadID,
		Author:    reply.Author,
		Content:   reply.Content,
		CreatedAt: formatTimestamp(reply.CreatedAt),
	}
}

func formatTimestamp(value time.Time) string {
	return value.UTC().Format(timestampLayout)
}
