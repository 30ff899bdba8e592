package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/botgrid/hosting/internal/billing"
	"github.com/botgrid/hosting/internal/middleware"
	"github.com/botgrid/hosting/internal/models"
)

func (h *handlers) balance(c *gin.Context) {
	tenantID := c.Param("tenant")
	balance, err := h.s.Ledger.Balance(tenantID)
	if err != nil {
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "balance_cents": balance})
}

func (h *handlers) transactions(c *gin.Context) {
	tenantID := c.Param("tenant")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	txs, err := h.s.Ledger.Transactions(tenantID, limit)
	if err != nil {
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

type ledgerRequest struct {
	AmountCents int64   `json:"amount_cents" binding:"required"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	ReferenceID *string `json:"reference_id"`
	Source      string  `json:"source"`
}

func (h *handlers) credit(c *gin.Context) {
	var req ledgerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	txType := models.TransactionType(req.Type)
	if txType == "" {
		txType = models.TransactionPurchase
	}
	tx, err := h.s.Ledger.Credit(c.Param("tenant"), req.AmountCents, txType, req.Description, req.ReferenceID, req.Source)
	if err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (h *handlers) debit(c *gin.Context) {
	var req ledgerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	txType := models.TransactionType(req.Type)
	if txType == "" {
		txType = models.TransactionUsage
	}
	tx, err := h.s.Ledger.Debit(c.Param("tenant"), req.AmountCents, txType, req.Description, req.ReferenceID, req.Source)
	if err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, tx)
}

type topupRequest struct {
	Enabled        bool  `json:"enabled"`
	ThresholdCents int64 `json:"threshold_cents"`
	AmountCents    int64 `json:"amount_cents"`
}

func (h *handlers) configureTopup(c *gin.Context) {
	var req topupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	if req.Enabled && (req.ThresholdCents <= 0 || req.AmountCents <= 0) {
		middleware.HandleAppError(c, middleware.NewBadRequestError("threshold and amount must be positive"))
		return
	}
	if err := h.s.Topup.Configure(c.Param("tenant"), req.Enabled, req.ThresholdCents, req.AmountCents); err != nil {
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type capsRequest struct {
	HourlyCapCents  *int64 `json:"hourly_cap_cents"`
	MonthlyCapCents *int64 `json:"monthly_cap_cents"`
}

func (h *handlers) setCaps(c *gin.Context) {
	var req capsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	if err := h.s.Budget.SetCaps(c.Param("tenant"), req.HourlyCapCents, req.MonthlyCapCents); err != nil {
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) checkBudget(c *gin.Context) {
	tenantID := c.Param("tenant")
	if err := h.s.Budget.Check(tenantID); err != nil {
		if errors.Is(err, billing.ErrBudgetExceeded) {
			middleware.HandleAppError(c, middleware.NewBudgetExceededError(err))
			return
		}
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "within_budget": true})
}

func (h *handlers) suspendTenant(c *gin.Context) {
	if err := h.s.Billing.SuspendTenant(c.Param("tenant"), "admin suspension"); err != nil {
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) reactivateTenant(c *gin.Context) {
	if err := h.s.Billing.ReactivateTenant(c.Param("tenant")); err != nil {
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type meterRequest struct {
	TenantID   string                 `json:"tenant" binding:"required"`
	CostNano   int64                  `json:"cost"`
	ChargeNano int64                  `json:"charge" binding:"required"`
	Capability string                 `json:"capability"`
	Provider   string                 `json:"provider"`
	Metadata   map[string]interface{} `json:"metadata"`
	Timestamp  time.Time              `json:"timestamp"`
}

// meter ingests one usage event from the gateway
func (h *handlers) meter(c *gin.Context) {
	var req meterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}
	err := h.s.Metering.Consume(c.Request.Context(), billing.MeterInput{
		TenantID:   req.TenantID,
		CostNano:   req.CostNano,
		ChargeNano: req.ChargeNano,
		Capability: req.Capability,
		Provider:   req.Provider,
		Metadata:   req.Metadata,
		Timestamp:  req.Timestamp,
	})
	if err != nil {
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
