package api

import (
	"net/http"
	"strconv"

	"github.com/UniQw/transferq/task"
	"github.com/gin-gonic/gin"
)

func netID(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("net"), 10, 32)
	if err != nil {
		badRequest(c, "invalid network id")
		return 0, false
	}
	return uint32(id), true
}

// NetAvailable reports a network coming up.
// POST /v1/system/networks/:net
func (h *Handler) NetAvailable(c *gin.Context) {
	id, ok := netID(c)
	if !ok {
		return
	}
	h.system.NetAvailable(id)
	c.Status(http.StatusAccepted)
}

// NetLost reports a network going down.
// DELETE /v1/system/networks/:net
func (h *Handler) NetLost(c *gin.Context) {
	id, ok := netID(c)
	if !ok {
		return
	}
	h.system.NetLost(id)
	c.Status(http.StatusAccepted)
}

// NetChanged reports the capabilities of a network from a task.NetInfo body.
// PUT /v1/system/networks/:net
func (h *Handler) NetChanged(c *gin.Context) {
	id, ok := netID(c)
	if !ok {
		return
	}
	var info task.NetInfo
	if err := c.ShouldBindJSON(&info); err != nil {
		badRequest(c, "invalid network info")
		return
	}
	h.system.NetCapabilityChanged(id, info)
	c.Status(http.StatusAccepted)
}

// AccountsRequest is the body of Accounts.
type AccountsRequest struct {
	Foreground uint64   `json:"foreground"`
	Active     []uint64 `json:"active"`
}

// Accounts reports the foreground and active accounts.
// PUT /v1/system/accounts
func (h *Handler) Accounts(c *gin.Context) {
	var req AccountsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid accounts request")
		return
	}
	h.system.AccountChanged(req.Foreground, req.Active)
	c.Status(http.StatusAccepted)
}

// AppStateRequest is the body of AppState.
type AppStateRequest struct {
	State task.AppState `json:"state"`
}

// AppState reports an app lifecycle change.
// PUT /v1/system/apps/:uid
func (h *Handler) AppState(c *gin.Context) {
	uid, err := strconv.ParseUint(c.Param("uid"), 10, 64)
	if err != nil {
		badRequest(c, "invalid uid")
		return
	}
	var req AppStateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.State > task.AppTerminated {
		badRequest(c, "invalid app state")
		return
	}
	h.system.AppStateChanged(uid, req.State)
	c.Status(http.StatusAccepted)
}

// MemoryRequest is the body of Memory.
type MemoryRequest struct {
	Level int `json:"level"`
}

// Memory switches the capacity preset.
// PUT /v1/system/memory
func (h *Handler) Memory(c *gin.Context) {
	var req MemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid memory request")
		return
	}
	if err := h.system.MemoryLevelChanged(c.Request.Context(), req.Level); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Sweep runs one maintenance pass.
// POST /v1/system/sweep
func (h *Handler) Sweep(c *gin.Context) {
	if err := h.system.Sweep(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
