package fleet

import (
	"fmt"
	"sync"
	"time"

	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/config"
)

// fakeConn is an in-process Conn: frames written by the channel land on
// written, frames pushed to inbound come back from ReadMessage.
type fakeConn struct {
	inbound   chan []byte
	written   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		written: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, fmt.Errorf("connection closed")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case c.written <- data:
		return nil
	case <-c.closed:
		return fmt.Errorf("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// fakeFabric records commands and backs placement and routing with the
// in-process stores, standing in for the node connection manager.
type fakeFabric struct {
	nodes repository.NodeStore
	bots  repository.BotStore

	mu         sync.Mutex
	calls      []string
	fail       map[string]error
	notRunning bool
}

func newFakeFabric(nodes repository.NodeStore, bots repository.BotStore) *fakeFabric {
	return &fakeFabric{nodes: nodes, bots: bots, fail: make(map[string]error)}
}

func (f *fakeFabric) SendCommand(nodeID, command string, payload map[string]interface{}) (*CommandResult, error) {
	label := ""
	if name, ok := payload["name"].(string); ok && name != "" {
		label = name
	} else if filename, ok := payload["filename"].(string); ok {
		label = filename
	}
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%s:%s", command, nodeID, label))
	f.mu.Unlock()

	if err := f.fail[command]; err != nil {
		return nil, err
	}

	result := &CommandResult{Success: true, Data: map[string]interface{}{}}
	switch command {
	case CmdBotExport:
		result.Data["filename"] = label + ".tar.gz"
		result.Data["size_bytes"] = int64(1024)
	case CmdBotInspect:
		result.Data["running"] = !f.notRunning
		result.Data["status"] = "running"
	}
	return result, nil
}

func (f *fakeFabric) ReassignTenant(botID, newNodeID string) error {
	return f.bots.AssignNode(botID, &newNodeID)
}

func (f *fakeFabric) AddNodeCapacity(nodeID string, deltaMB int) error {
	return f.nodes.AddUsed(nodeID, deltaMB)
}

func (f *fakeFabric) FindBestTarget(excludeNodeID string, estimatedMB int) (*models.Node, error) {
	nodes, err := f.nodes.FindAll()
	if err != nil {
		return nil, err
	}
	return FindPlacementExcluding(nodes, estimatedMB, excludeNodeID), nil
}

func (f *fakeFabric) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeFabric) recordedMatching(command string) []string {
	var out []string
	for _, call := range f.recorded() {
		if len(call) >= len(command) && call[:len(command)] == command {
			out = append(out, call)
		}
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		CommandTimeout:         2 * time.Second,
		DefaultEstimateMB:      512,
		HeartbeatSoftThreshold: 30 * time.Second,
		HeartbeatHardThreshold: 90 * time.Second,
		HealthCheckInterval:    10 * time.Second,
		RecoveryRetryBackoff:   time.Minute,
	}
}

func testNode(id string, status models.NodeStatus, capacityMB, usedMB int) *models.Node {
	now := time.Now().UTC()
	return &models.Node{
		ID:              id,
		Host:            id + ".internal",
		CapacityMB:      capacityMB,
		UsedMB:          usedMB,
		Status:          status,
		LastHeartbeatAt: now,
		RegisteredAt:    now,
		UpdatedAt:       now,
	}
}

func testBot(id, tenant, node string, tier models.ResourceTier, memoryMB int) *models.BotInstance {
	bot := &models.BotInstance{
		ID:           id,
		TenantID:     tenant,
		Name:         id,
		Image:        "botgrid/runtime:latest",
		MemoryMB:     memoryMB,
		BillingState: models.BillingActive,
		ResourceTier: tier,
	}
	if node != "" {
		bot.NodeID = &node
	}
	return bot
}
