package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/botgrid/hosting/internal/billing"
	"github.com/botgrid/hosting/internal/fleet"
	"github.com/botgrid/hosting/internal/middleware"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/internal/snapshot"
	"github.com/botgrid/hosting/pkg/config"
)

// Services is the explicit dependency record handlers draw from; everything
// is constructor-injected, nothing is looked up lazily.
type Services struct {
	Cfg        *config.Config
	Manager    *fleet.Manager
	Migrations *fleet.MigrationManager
	Recovery   *fleet.RecoveryManager
	Ledger     *billing.LedgerService
	Billing    *billing.BotBillingService
	Topup      *billing.AutoTopupService
	Budget     *billing.BudgetChecker
	Bulk       *billing.BulkService
	Metering   *billing.MeteringService
	Snapshots  *snapshot.Service
	Nodes      repository.NodeStore
	Bots       repository.BotStore
	Events     repository.RecoveryStore
}

// NewRouter builds the coordinator's HTTP surface
func NewRouter(s *Services) *gin.Engine {
	if !s.Cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.ErrorHandler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handlers{s: s}

	v1 := router.Group("/api/v1")
	{
		nodes := v1.Group("/nodes")
		nodes.Use(middleware.NodeAuth(s.Cfg))
		{
			nodes.POST("/register", h.registerNode)
			nodes.GET("/:id/channel", h.nodeChannel)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(s.Cfg))
		{
			admin.GET("/nodes", h.listNodes)
			admin.POST("/nodes/:id/drain", h.drainNode)
			admin.POST("/nodes/:id/recover", h.recoverNode)
			admin.GET("/recoveries/:id", h.getRecovery)
			admin.POST("/recoveries/:id/retry", h.retryRecovery)
			admin.POST("/migrations", h.migrate)

			admin.GET("/tenants/:tenant/balance", h.balance)
			admin.GET("/tenants/:tenant/transactions", h.transactions)
			admin.POST("/tenants/:tenant/credit", h.credit)
			admin.POST("/tenants/:tenant/debit", h.debit)
			admin.PUT("/tenants/:tenant/topup", h.configureTopup)
			admin.PUT("/tenants/:tenant/caps", h.setCaps)
			admin.GET("/tenants/:tenant/budget", h.checkBudget)
			admin.POST("/tenants/:tenant/suspend", h.suspendTenant)
			admin.POST("/tenants/:tenant/reactivate", h.reactivateTenant)

			admin.POST("/bulk/grant", h.bulkGrant)
			admin.POST("/bulk/grant/:id/undo", h.bulkUndoGrant)
			admin.POST("/bulk/suspend", h.bulkSuspend)
			admin.POST("/bulk/reactivate", h.bulkReactivate)
			admin.POST("/bulk/export", h.bulkExport)

			admin.POST("/meter", h.meter)

			admin.POST("/bots/:id/snapshots", h.createSnapshot)
			admin.GET("/tenants/:tenant/snapshots", h.listSnapshots)
			admin.POST("/snapshots/:id/restore", h.restoreSnapshot)
			admin.DELETE("/snapshots/:id", h.deleteSnapshot)
		}
	}
	return router
}

type handlers struct {
	s *Services
}
