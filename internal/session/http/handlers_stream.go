package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/intelliexo/intelliexo-backend/internal/logging"
)

// StreamView streams the caller's view using Server-Sent Events. Every change
// is sent whole as a "view" event.
func (h *Handler) StreamView(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "streaming unsupported"})
		return
	}

	ctx := c.Request.Context()
	views, stop, err := s.Watch(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // nginx: disable buffering
	c.Status(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			flusher.Flush()

		case v, ok := <-views:
			if !ok {
				fmt.Fprint(c.Writer, "event: closed\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(v)
			if err != nil {
				logging.FromContext(ctx, h.logger).Error("encode view", zap.Error(err))
				return
			}
			fmt.Fprintf(c.Writer, "event: view\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
