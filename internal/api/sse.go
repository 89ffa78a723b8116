package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/messaging"
)

const (
	defaultStreamPoll = 2 * time.Second
	streamHeartbeat   = 15 * time.Second
)

// stream pushes new messages of one conversation to the caller as
// server-sent events until the client goes away. Without after_id only
// messages posted after the connection opened are sent.
func (h *handlers) stream(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	me := caller(c)

	since := messaging.Since{After: time.Now().UTC()}
	if v := c.Query("after_id"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(c, apperr.Validation("invalid_cursor", "after_id %q is not an id", v))
			return
		}
		since = messaging.Since{AfterID: uint(n)}
	}
	if _, err := h.svc.Unread(ctx, me, id); err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeSSE(c.Writer, "connected", gin.H{"conversation_id": id})
	c.Writer.Flush()

	poll := time.NewTicker(h.pollEvery())
	heartbeat := time.NewTicker(streamHeartbeat)
	defer poll.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339)})
			c.Writer.Flush()
		case <-poll.C:
			entries, err := h.svc.HistorySince(ctx, me, id, since)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				pub := apperr.Public(err)
				writeSSE(c.Writer, "error", errorBody{Code: pub.Code, Message: pub.Message})
				c.Writer.Flush()
				return
			}
			if len(entries) == 0 {
				continue
			}
			for _, e := range entries {
				writeSSE(c.Writer, "message", e)
			}
			since = messaging.Since{AfterID: entries[len(entries)-1].ID}
			c.Writer.Flush()
		}
	}
}

func (h *handlers) pollEvery() time.Duration {
	if h.poll > 0 {
		return h.poll
	}
	return defaultStreamPoll
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
