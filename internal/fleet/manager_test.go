package fleet

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgrid/hosting/internal/events"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/repository"
)

func managerFixture(t *testing.T) (*Manager, *repository.MemoryNodeStore, *repository.MemoryBotStore, *repository.MemoryRecoveryStore) {
	t.Helper()
	nodes := repository.NewMemoryNodeStore()
	bots := repository.NewMemoryBotStore()
	recovery := repository.NewMemoryRecoveryStore()
	m := NewManager(testConfig(), nodes, bots, recovery, events.NewBus())
	return m, nodes, bots, recovery
}

func TestRegisterNodeTransitions(t *testing.T) {
	tests := []struct {
		name    string
		initial models.NodeStatus // "" means no existing record
		want    models.NodeStatus
	}{
		{"new node starts active", "", models.NodeActive},
		{"offline comes back returning", models.NodeOffline, models.NodeReturning},
		{"recovering comes back returning", models.NodeRecovering, models.NodeReturning},
		{"failed comes back returning", models.NodeFailed, models.NodeReturning},
		{"unhealthy re-registration clears to active", models.NodeUnhealthy, models.NodeActive},
		{"active stays active", models.NodeActive, models.NodeActive},
		{"returning stays returning", models.NodeReturning, models.NodeReturning},
		{"draining stays draining", models.NodeDraining, models.NodeDraining},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, nodes, _, _ := managerFixture(t)
			if tt.initial != "" {
				require.NoError(t, nodes.Create(testNode("n1", tt.initial, 4096, 0)))
			}

			node, err := m.RegisterNode("n1", "host-a", 8192, "1.2.0")
			require.NoError(t, err)
			assert.Equal(t, tt.want, node.Status)
			assert.Equal(t, 8192, node.CapacityMB)
			assert.Equal(t, "1.2.0", node.AgentVersion)

			stored, err := nodes.FindByID("n1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored.Status)
		})
	}
}

func TestRegisterNodeClosesInFlightRecovery(t *testing.T) {
	m, nodes, _, recovery := managerFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeOffline, 4096, 0)))
	require.NoError(t, recovery.CreateEvent(&models.RecoveryEvent{
		ID:        "ev1",
		NodeID:    "n1",
		Trigger:   models.TriggerHeartbeatTimeout,
		Status:    models.RecoveryInProgress,
		StartedAt: time.Now().UTC(),
	}))

	_, err := m.RegisterNode("n1", "host-a", 4096, "1.2.0")
	require.NoError(t, err)

	event, err := recovery.FindEvent("ev1")
	require.NoError(t, err)
	assert.Equal(t, models.RecoveryCompleted, event.Status)
	assert.NotNil(t, event.CompletedAt)
}

// echoAgent answers every command frame with a canned result, playing the
// node agent's role behind a fake connection.
func echoAgent(conn *fakeConn, success bool, errMsg string) {
	for {
		select {
		case data := <-conn.written:
			var cmd Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				continue
			}
			reply, _ := json.Marshal(Envelope{
				ID:      cmd.ID,
				Type:    FrameCommandResult,
				Command: cmd.Command,
				Success: success,
				Data:    map[string]interface{}{"status": "running"},
				Error:   errMsg,
			})
			select {
			case conn.inbound <- reply:
			case <-conn.closed:
				return
			}
		case <-conn.closed:
			return
		}
	}
}

func TestSendCommandRoundTrip(t *testing.T) {
	m, _, _, _ := managerFixture(t)
	conn := newFakeConn()
	ch := m.HandleChannel("n1", conn)
	defer ch.Close()
	go echoAgent(conn, true, "")

	result, err := m.SendCommand("n1", CmdBotInspect, map[string]interface{}{"name": "bot-t1.b1"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "running", result.Data["status"])
}

func TestSendCommandSurfacesAgentFailure(t *testing.T) {
	m, _, _, _ := managerFixture(t)
	conn := newFakeConn()
	ch := m.HandleChannel("n1", conn)
	defer ch.Close()
	go echoAgent(conn, false, "no such container")

	result, err := m.SendCommand("n1", CmdBotStop, map[string]interface{}{"name": "bot-t1.b1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such container")
	require.NotNil(t, result)
	assert.False(t, result.Success)
}

func TestSendCommandToDisconnectedNode(t *testing.T) {
	m, _, _, _ := managerFixture(t)
	_, err := m.SendCommand("ghost", CmdBotStop, nil)
	assert.ErrorIs(t, err, ErrNodeNotConnected)
}

func TestHandleChannelReplacesExisting(t *testing.T) {
	m, _, _, _ := managerFixture(t)
	first := newFakeConn()
	old := m.HandleChannel("n1", first)
	second := newFakeConn()
	current := m.HandleChannel("n1", second)
	defer current.Close()

	select {
	case <-old.closed:
	case <-time.After(time.Second):
		t.Fatal("replaced channel not closed")
	}
	assert.True(t, m.IsConnected("n1"))
}

func TestReassignTenantUpdatesRouting(t *testing.T) {
	m, _, bots, _ := managerFixture(t)
	require.NoError(t, bots.Create(testBot("b1", "t1", "n1", models.TierStarter, 512)))

	require.NoError(t, m.ReassignTenant("b1", "n2"))

	bot, err := bots.FindByID("b1")
	require.NoError(t, err)
	require.NotNil(t, bot.NodeID)
	assert.Equal(t, "n2", *bot.NodeID)

	nodeID, ok := m.NodeForTenant("t1")
	assert.True(t, ok)
	assert.Equal(t, "n2", nodeID)
}

func TestConnectedNodesAndCloseAll(t *testing.T) {
	m, _, _, _ := managerFixture(t)
	a := m.HandleChannel("n1", newFakeConn())
	b := m.HandleChannel("n2", newFakeConn())

	assert.ElementsMatch(t, []string{"n1", "n2"}, m.ConnectedNodes())

	m.CloseAll()
	select {
	case <-a.closed:
	case <-time.After(time.Second):
		t.Fatal("channel n1 not closed")
	}
	select {
	case <-b.closed:
	case <-time.After(time.Second):
		t.Fatal("channel n2 not closed")
	}
}
