// Package api exposes a transferq server over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/UniQw/transferq"
	"github.com/UniQw/transferq/task"
	"github.com/gin-gonic/gin"
)

// UIDHeader carries the calling app uid on every task request.
const UIDHeader = "X-Transferq-Uid"

// System receives the device events that drive admission.
type System interface {
	NetAvailable(netID uint32)
	NetLost(netID uint32)
	NetCapabilityChanged(netID uint32, info task.NetInfo)
	AccountChanged(foreground uint64, active []uint64)
	AppStateChanged(uid uint64, st task.AppState)
	MemoryLevelChanged(ctx context.Context, level int) error
	Sweep(ctx context.Context) error
}

// Handler serves the task and system routes.
type Handler struct {
	client *transferq.Client
	system System
	log    transferq.Logger
}

// NewHandler creates a handler over client and system.
func NewHandler(client *transferq.Client, system System, log transferq.Logger) *Handler {
	if log == nil {
		log = transferq.NewFmtLogger()
	}
	return &Handler{client: client, system: system, log: log}
}

// Router builds the gin engine. metrics, if not nil, is served on /metrics.
func (h *Handler) Router(metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.logRequests())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
	h.RegisterRoutes(r.Group("/v1"))
	return r
}

// RegisterRoutes registers task and system routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	tasks := r.Group("/tasks", requireUID())
	tasks.POST("", h.Construct)
	tasks.GET("", h.Search)
	tasks.GET("/:id", h.Get)
	tasks.DELETE("/:id", h.Remove)
	tasks.POST("/:id/start", h.command((*transferq.Client).Start))
	tasks.POST("/:id/pause", h.command((*transferq.Client).Pause))
	tasks.POST("/:id/resume", h.command((*transferq.Client).Resume))
	tasks.POST("/:id/stop", h.command((*transferq.Client).Stop))
	tasks.PUT("/:id/mode", h.SetMode)
	tasks.PUT("/:id/speed", h.SetMaxSpeed)
	r.GET("/stats", requireUID(), h.Stats)

	sys := r.Group("/system")
	sys.POST("/networks/:net", h.NetAvailable)
	sys.DELETE("/networks/:net", h.NetLost)
	sys.PUT("/networks/:net", h.NetChanged)
	sys.PUT("/accounts", h.Accounts)
	sys.PUT("/apps/:uid", h.AppState)
	sys.PUT("/memory", h.Memory)
	sys.POST("/sweep", h.Sweep)
}

func (h *Handler) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debugf("http %s %s status=%d dur=%s", c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

func requireUID() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := strconv.ParseUint(c.GetHeader(UIDHeader), 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing or invalid " + UIDHeader})
			return
		}
		c.Set("uid", uid)
		c.Next()
	}
}

func uidOf(c *gin.Context) uint64 { return c.GetUint64("uid") }

func taskID(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		badRequest(c, "invalid task id")
		return 0, false
	}
	return uint32(id), true
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int32  `json:"code,omitempty"`
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: int32(task.ParameterCheck)})
}

// statusOf maps a service error onto an HTTP status.
func statusOf(err error) int {
	if errors.Is(err, transferq.ErrNotRunning) {
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch transferq.CodeOf(err) {
	case task.ParameterCheck:
		return http.StatusBadRequest
	case task.Permission, task.SystemApi:
		return http.StatusForbidden
	case task.TaskNotFound, task.GroupNotFound:
		return http.StatusNotFound
	case task.TaskStateErr, task.TaskModeErr:
		return http.StatusConflict
	case task.TaskEnqueueErr:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.log.Errorf("http %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: int32(transferq.CodeOf(err))})
}
