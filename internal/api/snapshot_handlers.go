package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/botgrid/hosting/internal/middleware"
)

type snapshotRequest struct {
	Name string `json:"name"`
}

func (h *handlers) createSnapshot(c *gin.Context) {
	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	snap, err := h.s.Snapshots.Create(c.Param("id"), req.Name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			middleware.HandleAppError(c, middleware.NewNotFoundError("bot"))
			return
		}
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *handlers) listSnapshots(c *gin.Context) {
	snaps, err := h.s.Snapshots.List(c.Param("tenant"))
	if err != nil {
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (h *handlers) restoreSnapshot(c *gin.Context) {
	if err := h.s.Snapshots.Restore(c.Param("id")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			middleware.HandleAppError(c, middleware.NewNotFoundError("snapshot"))
			return
		}
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "restored"})
}

func (h *handlers) deleteSnapshot(c *gin.Context) {
	if err := h.s.Snapshots.Delete(c.Param("id")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			middleware.HandleAppError(c, middleware.NewNotFoundError("snapshot"))
			return
		}
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
