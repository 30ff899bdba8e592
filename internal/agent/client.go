package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/botgrid/hosting/internal/fleet"
	"github.com/botgrid/hosting/pkg/config"
	"github.com/botgrid/hosting/pkg/logger"
)

// Version is stamped into registration requests
const Version = "1.2.0"

const (
	reconnectMin = time.Second
	reconnectMax = time.Minute
)

// Client maintains the agent side of the node channel: it registers with
// the coordinator, keeps the websocket alive, sends heartbeats and executes
// incoming commands.
type Client struct {
	cfg      *config.Config
	executor *Executor
	secret   string
}

// NewClient creates an agent client
func NewClient(cfg *config.Config, executor *Executor) *Client {
	return &Client{cfg: cfg, executor: executor}
}

type registerResponse struct {
	NodeSecret string `json:"node_secret"`
}

// Register announces the node to the coordinator. First runs authenticate
// with the bootstrap token and persist the per-node secret the coordinator
// issues; later runs present the saved secret.
func (c *Client) Register() error {
	credential := c.loadSecret()
	if credential == "" {
		credential = c.cfg.RegistrationToken
	}
	if credential == "" {
		return fmt.Errorf("no node secret and no registration token configured")
	}

	host, err := os.Hostname()
	if err != nil {
		host = c.cfg.AgentNodeID
	}
	body, err := json.Marshal(map[string]interface{}{
		"node_id":       c.cfg.AgentNodeID,
		"host":          host,
		"capacity_mb":   c.cfg.AgentCapacityMB,
		"agent_version": Version,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.httpURL("/api/v1/nodes/register"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registration rejected with status %d", resp.StatusCode)
	}

	var parsed registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return err
	}
	if parsed.NodeSecret != "" {
		if err := os.WriteFile(c.cfg.AgentSecretPath, []byte(parsed.NodeSecret), 0600); err != nil {
			return fmt.Errorf("failed to persist node secret: %w", err)
		}
		c.secret = parsed.NodeSecret
	} else {
		c.secret = credential
	}
	logger.Info("registered with coordinator", map[string]interface{}{
		"node": c.cfg.AgentNodeID,
	})
	return nil
}

func (c *Client) loadSecret() string {
	if c.secret != "" {
		return c.secret
	}
	data, err := os.ReadFile(c.cfg.AgentSecretPath)
	if err != nil {
		return ""
	}
	c.secret = strings.TrimSpace(string(data))
	return c.secret
}

// Run keeps the node channel alive until the context is cancelled,
// re-registering and reconnecting with backoff after every disconnect.
func (c *Client) Run(ctx context.Context) {
	backoff := reconnectMin
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.Register(); err != nil {
			logger.Error("registration failed", err, nil)
		} else if err := c.runChannel(ctx); err != nil {
			logger.Error("node channel closed", err, nil)
		}
		if ctx.Err() != nil {
			return
		}

		logger.Info("reconnecting", map[string]interface{}{
			"backoff": backoff.String(),
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// runChannel dials the channel and services it until the connection drops.
// A nil return means the context was cancelled.
func (c *Client) runChannel(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.secret)
	url := c.cfg.AgentCoordinator + "/api/v1/nodes/" + c.cfg.AgentNodeID + "/channel"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("failed to dial coordinator: %w", err)
	}
	logger.Info("node channel established", map[string]interface{}{
		"node": c.cfg.AgentNodeID,
	})

	outbound := make(chan []byte, 64)
	done := make(chan struct{})

	// Single writer; heartbeat and result frames funnel through outbound.
	go func() {
		for {
			select {
			case <-done:
				return
			case frame := <-outbound:
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	go c.heartbeatLoop(ctx, outbound, done)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var cmd fleet.Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			logger.Warn("dropping malformed frame", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		if cmd.Type != fleet.FrameCommand {
			continue
		}
		// Commands run concurrently; a slow export must not block a stop.
		go func(cmd fleet.Command) {
			result := c.executor.Execute(ctx, cmd)
			frame, err := json.Marshal(result)
			if err != nil {
				return
			}
			select {
			case outbound <- frame:
			case <-done:
			}
		}(cmd)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, outbound chan<- []byte, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	send := func() {
		containers, err := c.executor.Inventory(ctx)
		if err != nil {
			logger.Error("container inventory failed", err, nil)
			containers = []fleet.ContainerReport{}
		}
		frame, err := json.Marshal(fleet.Envelope{
			Type:       fleet.FrameHeartbeat,
			Containers: containers,
		})
		if err != nil {
			return
		}
		select {
		case outbound <- frame:
		case <-done:
		}
	}

	send()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			send()
		}
	}
}

func (c *Client) httpURL(path string) string {
	base := c.cfg.AgentCoordinator
	base = strings.Replace(base, "ws://", "http://", 1)
	base = strings.Replace(base, "wss://", "https://", 1)
	return base + path
}
