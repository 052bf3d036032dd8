package api

import (
	"context"
	"net/http"
	"time"

	"github.com/UniQw/transferq"
	"github.com/UniQw/transferq/task"
	"github.com/gin-gonic/gin"
)

// ConstructResponse is the body returned by a successful Construct.
type ConstructResponse struct {
	TaskID uint32 `json:"task_id"`
}

// Construct creates a task from a task.Config body.
// POST /v1/tasks
func (h *Handler) Construct(c *gin.Context) {
	var cfg task.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, "invalid task config")
		return
	}
	id, err := h.client.Construct(c.Request.Context(), uidOf(c), cfg)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ConstructResponse{TaskID: id})
}

type commandFunc func(*transferq.Client, context.Context, uint64, uint32) error

func (h *Handler) command(fn commandFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := taskID(c)
		if !ok {
			return
		}
		if err := fn(h.client, c.Request.Context(), uidOf(c), id); err != nil {
			h.fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// Remove removes a task.
// DELETE /v1/tasks/:id
func (h *Handler) Remove(c *gin.Context) {
	h.command((*transferq.Client).Remove)(c)
}

// Get returns one task.
// GET /v1/tasks/:id
func (h *Handler) Get(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	info, err := h.client.GetTask(c.Request.Context(), uidOf(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	info.Config.Token = ""
	c.JSON(http.StatusOK, info)
}

// SearchResponse lists matching task ids, oldest first.
type SearchResponse struct {
	TaskIDs []uint32 `json:"task_ids"`
}

// Search lists the caller's tasks. Query parameters: bundle, state, action,
// mode, after and before (RFC 3339).
// GET /v1/tasks
func (h *Handler) Search(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	ids, err := h.client.Search(c.Request.Context(), uidOf(c), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	if ids == nil {
		ids = []uint32{}
	}
	c.JSON(http.StatusOK, SearchResponse{TaskIDs: ids})
}

func parseFilter(c *gin.Context) (task.Filter, error) {
	f := task.AnyFilter()
	f.Bundle = c.Query("bundle")
	var err error
	if s := c.Query("state"); s != "" {
		if f.State, err = task.ParseState(s); err != nil {
			return f, err
		}
	}
	if s := c.Query("action"); s != "" {
		if f.Action, err = task.ParseAction(s); err != nil {
			return f, err
		}
	}
	if s := c.Query("mode"); s != "" {
		if f.Mode, err = task.ParseMode(s); err != nil {
			return f, err
		}
	}
	if s := c.Query("after"); s != "" {
		if f.After, err = time.Parse(time.RFC3339, s); err != nil {
			return f, err
		}
	}
	if s := c.Query("before"); s != "" {
		if f.Before, err = time.Parse(time.RFC3339, s); err != nil {
			return f, err
		}
	}
	return f, nil
}

// ModeRequest is the body of SetMode.
type ModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// SetMode moves a task to frontend or background.
// PUT /v1/tasks/:id/mode
func (h *Handler) SetMode(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid mode request")
		return
	}
	m, err := task.ParseMode(req.Mode)
	if err != nil {
		badRequest(c, "invalid mode")
		return
	}
	if err := h.client.SetMode(c.Request.Context(), uidOf(c), id, m); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SpeedRequest is the body of SetMaxSpeed.
type SpeedRequest struct {
	BytesPerSecond int64 `json:"bytes_per_second"`
}

// SetMaxSpeed caps a task's speed.
// PUT /v1/tasks/:id/speed
func (h *Handler) SetMaxSpeed(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	var req SpeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid speed request")
		return
	}
	if err := h.client.SetMaxSpeed(c.Request.Context(), uidOf(c), id, req.BytesPerSecond); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Stats reports scheduler state and the caller's quota usage.
// GET /v1/stats
func (h *Handler) Stats(c *gin.Context) {
	s, err := h.client.Stats(c.Request.Context(), uidOf(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pressure":   s.Pressure,
		"admitted":   s.Admitted,
		"running":    s.Running,
		"draining":   s.Draining,
		"apps":       s.Apps,
		"levels":     s.Levels,
		"frontend":   s.Frontend,
		"background": s.Background,
	})
}
