package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/corkboard/internal/forum"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	StreamEventPresence    = "presence"
	StreamEventBoardChange = "board-change"
	streamEventHeartbeat   = "heartbeat"
	streamSource           = "corkboard-api"
)

type boardChangePayload struct {
	Key       string `json:"key"`
	Deleted   bool   `json:"deleted"`
	Timestamp string `json:"timestamp"`
}

type streamHeartbeatPayload struct {
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// handlePresenceStream emits the current count, then every presence rewrite and
// every thread or reply change until the client disconnects.
func (h *httpHandler) handlePresenceStream(c *gin.Context) {
	ctx := c.Request.Context()
	initial, err := h.presence.Count(ctx)
	if err != nil {
		h.respondInternalError(c, "failed to count presence", err)
		return
	}

	updates, stopPresence := h.presence.Subscribe(ctx)
	defer stopPresence()
	changes, stopChanges := h.store.Subscribe(ctx, forum.KeyThreads, forum.KeyReplies)
	defer stopChanges()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ticker := time.NewTicker(h.streamHeartbeat)
	defer ticker.Stop()

	h.writeStreamEvent(c, StreamEventPresence, presenceCountResponse{OnlineCount: initial})
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			h.writeStreamEvent(c, StreamEventPresence, presenceCountResponse{OnlineCount: update.Count})
		case change, ok := <-changes:
			if !ok {
				return
			}
			h.writeStreamEvent(c, StreamEventBoardChange, boardChangePayload{
				Key:       change.Key,
				Deleted:   change.Deleted,
				Timestamp: formatTimestamp(change.Timestamp),
			})
		case tick := <-ticker.C:
			h.writeStreamEvent(c, streamEventHeartbeat, streamHeartbeatPayload{
				Source:    streamSource,
				Timestamp: formatTimestamp(tick),
			})
		}
	}
}

func (h *httpHandler) writeStreamEvent(c *gin.Context, name string, payload any) {
	c.SSEvent(name, payload)
	c.Writer.Flush()
	h.logger.Debug("stream event sent", zap.String("event", name))
}
