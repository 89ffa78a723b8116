package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/messaging"
	"github.com/zulandar/tradepost/internal/trade"
)

type handlers struct {
	svc  *trade.Service
	poll time.Duration
}

func registerRoutes(g *gin.RouterGroup, h *handlers) {
	g.GET("/conversations", h.listConversations)
	g.POST("/conversations", h.ensureConversation)
	g.DELETE("/conversations/:id", h.deleteConversation)
	g.GET("/conversations/:id/messages", h.history)
	g.POST("/conversations/:id/messages", h.postMessage)
	g.POST("/conversations/:id/read", h.markRead)
	g.GET("/conversations/:id/unread", h.unread)
	g.GET("/conversations/:id/events", h.stream)

	g.POST("/schedules", h.createSchedule)
	g.GET("/schedules/:id", h.getSchedule)
	g.POST("/schedules/:id/respond", h.respondSchedule)
	g.POST("/schedules/:id/cancel", h.cancelSchedule)

	g.POST("/confirms", h.createConfirm)
	g.GET("/confirms/:id", h.confirmStatus)
	g.POST("/confirms/:id/respond", h.respondConfirm)
	g.POST("/confirms/:id/cancel", h.cancelConfirm)

	g.DELETE("/items/:id", h.deleteItem)
}

func pathID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("invalid_id", "%q is not an id", c.Param("id"))
	}
	return uint(id), nil
}

func bind(c *gin.Context, v interface{}) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return apperr.Validation("invalid_body", "request body: %v", err)
	}
	return nil
}

type ensureBody struct {
	SellerID uint  `json:"seller_id"`
	ItemID   *uint `json:"item_id"`
}

func (h *handlers) ensureConversation(c *gin.Context) {
	var body ensureBody
	if err := bind(c, &body); err != nil {
		writeError(c, err)
		return
	}
	conv, err := h.svc.EnsureConversation(c.Request.Context(), caller(c), body.SellerID, body.ItemID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *handlers) listConversations(c *gin.Context) {
	list, err := h.svc.ListConversations(c.Request.Context(), caller(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (h *handlers) deleteConversation(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	purged, err := h.svc.DeleteConversation(c.Request.Context(), caller(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": purged})
}

// history returns the whole conversation, or only messages after the
// after_id / after (RFC 3339) query parameters without marking them read.
func (h *handlers) history(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var since messaging.Since
	if v := c.Query("after_id"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(c, apperr.Validation("invalid_cursor", "after_id %q is not an id", v))
			return
		}
		since.AfterID = uint(n)
	}
	if v := c.Query("after"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(c, apperr.Validation("invalid_cursor", "after %q is not an RFC 3339 time", v))
			return
		}
		since.After = ts.UTC()
	}

	var entries []messaging.Entry
	if since.AfterID == 0 && since.After.IsZero() {
		entries, err = h.svc.History(c.Request.Context(), caller(c), id)
	} else {
		entries, err = h.svc.HistorySince(c.Request.Context(), caller(c), id, since)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": entries})
}

type postBody struct {
	Content  string `json:"content"`
	ImageRef string `json:"image_ref"`
}

func (h *handlers) postMessage(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var body postBody
	if err := bind(c, &body); err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	if body.ImageRef != "" {
		msg, err := h.svc.PostImage(ctx, caller(c), id, body.ImageRef, body.Content)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, msg)
		return
	}
	msg, err := h.svc.PostText(ctx, caller(c), id, body.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *handlers) markRead(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.svc.MarkRead(c.Request.Context(), caller(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) unread(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	u, err := h.svc.Unread(c.Request.Context(), caller(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *handlers) createSchedule(c *gin.Context) {
	var in trade.ScheduleInput
	if err := bind(c, &in); err != nil {
		writeError(c, err)
		return
	}
	req, err := h.svc.CreateSchedule(c.Request.Context(), caller(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *handlers) getSchedule(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	req, err := h.svc.GetSchedule(c.Request.Context(), caller(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type respondBody struct {
	Action string `json:"action"`
}

func (h *handlers) respondSchedule(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var body respondBody
	if err := bind(c, &body); err != nil {
		writeError(c, err)
		return
	}
	req, err := h.svc.RespondSchedule(c.Request.Context(), caller(c), id, body.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *handlers) cancelSchedule(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	req, err := h.svc.CancelSchedule(c.Request.Context(), caller(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *handlers) createConfirm(c *gin.Context) {
	var in trade.ConfirmInput
	if err := bind(c, &in); err != nil {
		writeError(c, err)
		return
	}
	cp, err := h.svc.CreateConfirm(c.Request.Context(), caller(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cp)
}

func (h *handlers) confirmStatus(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	cp, err := h.svc.ConfirmStatus(c.Request.Context(), caller(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h *handlers) respondConfirm(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var body respondBody
	if err := bind(c, &body); err != nil {
		writeError(c, err)
		return
	}
	cp, err := h.svc.RespondConfirm(c.Request.Context(), caller(c), id, body.Action)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h *handlers) cancelConfirm(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	cp, err := h.svc.CancelConfirm(c.Request.Context(), caller(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h *handlers) deleteItem(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.svc.MarkItemDeleted(c.Request.Context(), caller(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
