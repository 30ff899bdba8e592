package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/botgrid/hosting/internal/fleet"
	"github.com/botgrid/hosting/internal/middleware"
	"github.com/botgrid/hosting/internal/models"
)

func (h *handlers) listNodes(c *gin.Context) {
	nodes, err := h.s.Nodes.FindAll()
	if err != nil {
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	connected := make(map[string]bool)
	for _, id := range h.s.Manager.ConnectedNodes() {
		connected[id] = true
	}
	type nodeView struct {
		*models.Node
		Connected bool `json:"connected"`
	}
	views := make([]nodeView, 0, len(nodes))
	for _, node := range nodes {
		views = append(views, nodeView{Node: node, Connected: connected[node.ID]})
	}
	c.JSON(http.StatusOK, gin.H{"nodes": views})
}

func (h *handlers) drainNode(c *gin.Context) {
	nodeID := c.Param("id")
	if _, err := h.s.Nodes.FindByID(nodeID); err != nil {
		middleware.HandleAppError(c, middleware.NewNotFoundError("node"))
		return
	}
	result, err := h.s.Migrations.DrainNode(nodeID)
	if err != nil {
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) recoverNode(c *gin.Context) {
	nodeID := c.Param("id")
	if _, err := h.s.Nodes.FindByID(nodeID); err != nil {
		middleware.HandleAppError(c, middleware.NewNotFoundError("node"))
		return
	}
	event, err := h.s.Recovery.RecoverNode(nodeID, models.TriggerManual)
	if err != nil {
		middleware.HandleAppError(c, middleware.NewConflictError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *handlers) getRecovery(c *gin.Context) {
	event, err := h.s.Events.FindEvent(c.Param("id"))
	if err != nil {
		middleware.HandleAppError(c, middleware.NewNotFoundError("recovery event"))
		return
	}
	items, err := h.s.Events.FindItems(event.ID)
	if err != nil {
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": event, "items": items})
}

func (h *handlers) retryRecovery(c *gin.Context) {
	event, err := h.s.Recovery.RetryWaiting(c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			middleware.HandleAppError(c, middleware.NewNotFoundError("recovery event"))
			return
		}
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, event)
}

type migrateRequest struct {
	BotID        string `json:"bot_id" binding:"required"`
	TargetNodeID string `json:"target_node_id"`
	EstimatedMB  int    `json:"estimated_mb"`
}

func (h *handlers) migrate(c *gin.Context) {
	var req migrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	result, err := h.s.Migrations.MigrateTenant(req.BotID, req.TargetNodeID, req.EstimatedMB)
	if err != nil {
		switch {
		case errors.Is(err, fleet.ErrMigrationInFlight):
			middleware.HandleAppError(c, middleware.NewConflictError(err.Error()))
		case errors.Is(err, fleet.ErrNoCapacity):
			middleware.HandleAppError(c, middleware.NewCapacityError(err.Error()))
		case errors.Is(err, gorm.ErrRecordNotFound):
			middleware.HandleAppError(c, middleware.NewNotFoundError("bot"))
		default:
			middleware.HandleAppError(c, middleware.NewInternalError(err))
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

type bulkRequest struct {
	TenantIDs   []string `json:"tenant_ids" binding:"required"`
	AmountCents int64    `json:"amount_cents"`
	Description string   `json:"description"`
	Reason      string   `json:"reason"`
}

func (h *handlers) bulkGrant(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	result, err := h.s.Bulk.Grant(req.TenantIDs, req.AmountCents, req.Description)
	if err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) bulkUndoGrant(c *gin.Context) {
	result, err := h.s.Bulk.UndoGrant(c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			middleware.HandleAppError(c, middleware.NewNotFoundError("operation"))
			return
		}
		middleware.HandleAppError(c, middleware.NewConflictError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) bulkSuspend(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	result, err := h.s.Bulk.Suspend(req.TenantIDs, req.Reason)
	if err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) bulkReactivate(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	result, err := h.s.Bulk.Reactivate(req.TenantIDs)
	if err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) bulkExport(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	rows, err := h.s.Bulk.Export(req.TenantIDs)
	if err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": rows})
}
