package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/botgrid/hosting/internal/middleware"
	"github.com/botgrid/hosting/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Agents connect from their own hosts, not browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type registerRequest struct {
	NodeID       string `json:"node_id" binding:"required"`
	Host         string `json:"host" binding:"required"`
	CapacityMB   int    `json:"capacity_mb" binding:"required"`
	AgentVersion string `json:"agent_version"`
}

// registerNode handles the one-shot registration request. First-run agents
// present the bootstrap token and receive a persistent per-node secret;
// subsequent runs present that secret.
func (h *handlers) registerNode(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleAppError(c, middleware.NewBadRequestError(err.Error()))
		return
	}

	if nodeID, ok := c.Get("node_id"); ok {
		// Authenticated with a per-node secret; it must match the body.
		if nodeID.(string) != req.NodeID {
			middleware.HandleAppError(c, middleware.NewUnauthorizedError("Credential does not match node id"))
			return
		}
	}

	node, err := h.s.Manager.RegisterNode(req.NodeID, req.Host, req.CapacityMB, req.AgentVersion)
	if err != nil {
		middleware.HandleAppError(c, middleware.NewInternalError(err))
		return
	}

	resp := gin.H{"node": node}
	if _, fresh := c.Get("registration"); fresh {
		secret, err := middleware.IssueNodeSecret(h.s.Cfg, req.NodeID)
		if err != nil {
			middleware.HandleAppError(c, middleware.NewInternalError(err))
			return
		}
		resp["node_secret"] = secret
	}
	c.JSON(http.StatusOK, resp)
}

// nodeChannel upgrades the connection to the persistent bidirectional
// channel and hands it to the connection manager.
func (h *handlers) nodeChannel(c *gin.Context) {
	nodeID := c.Param("id")

	authenticated, ok := c.Get("node_id")
	if !ok || authenticated.(string) != nodeID {
		middleware.HandleAppError(c, middleware.NewUnauthorizedError("Channel requires the node's own credential"))
		return
	}

	if _, err := h.s.Nodes.FindByID(nodeID); err != nil {
		middleware.HandleAppError(c, middleware.NewNotFoundError("node"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", err, map[string]interface{}{
			"node": nodeID,
		})
		return
	}
	h.s.Manager.HandleChannel(nodeID, conn)
}
