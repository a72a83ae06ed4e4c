package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/gengenie/internal/common"
)

// StreamEvents pushes the user's job completions as server-sent events.
// Polling GET /tryon/jobs/:job_id stays the source of truth.
func (h *Handler) StreamEvents(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	if h.Events == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50302, "push events are not configured")
		return
	}

	ctx := c.Request.Context()
	events, stop, err := h.Events.SubscribeJobEvents(ctx, uid)
	if err != nil {
		h.Logger.Error().Err(err).Str("user_id", uid).Msg("subscribe job events")
		common.Fail(c, http.StatusInternalServerError, 50005, "failed to subscribe")
		return
	}
	defer stop()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, 50006, "streaming not supported")
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}
	writeJSON("ready", gin.H{"user_id": uid})

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeJSON("job", ev)
		}
	}
}
