package fleet

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgrid/hosting/internal/events"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/repository"
)

func orphanFixture(t *testing.T) (*OrphanCleaner, *repository.MemoryNodeStore, *repository.MemoryBotStore, *fakeFabric) {
	t.Helper()
	nodes := repository.NewMemoryNodeStore()
	bots := repository.NewMemoryBotStore()
	fabric := newFakeFabric(nodes, bots)
	cleaner := NewOrphanCleaner(nodes, bots, fabric, events.NewBus())
	return cleaner, nodes, bots, fabric
}

func TestOrphanCleanStopsOnlyForeignContainers(t *testing.T) {
	cleaner, nodes, bots, fabric := orphanFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeReturning, 4096, 0)))
	// t1 was moved to n2 during the outage; t2 still belongs here.
	require.NoError(t, bots.Create(testBot("b1", "t1", "n2", models.TierStarter, 512)))
	require.NoError(t, bots.Create(testBot("b2", "t2", "n1", models.TierStarter, 512)))

	require.NoError(t, cleaner.Clean("n1", []ContainerReport{
		{Name: "bot-t1.b1", MemoryMB: 512},
		{Name: "bot-t2.b2", MemoryMB: 512},
		{Name: "sidecar", MemoryMB: 64}, // not a bot container
	}))

	assert.Equal(t, []string{"bot.stop:n1:bot-t1.b1"}, fabric.recorded())

	node, err := nodes.FindByID("n1")
	require.NoError(t, err)
	assert.Equal(t, models.NodeActive, node.Status)
}

func TestOrphanCleanFailureKeepsNodeReturning(t *testing.T) {
	cleaner, nodes, bots, fabric := orphanFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeReturning, 4096, 0)))
	require.NoError(t, bots.Create(testBot("b1", "t1", "n2", models.TierStarter, 512)))
	fabric.fail[CmdBotStop] = fmt.Errorf("agent busy")

	require.NoError(t, cleaner.Clean("n1", []ContainerReport{{Name: "bot-t1.b1", MemoryMB: 512}}))

	node, err := nodes.FindByID("n1")
	require.NoError(t, err)
	assert.Equal(t, models.NodeReturning, node.Status)
}

func TestOrphanCleanEmptyInventoryActivatesNode(t *testing.T) {
	cleaner, nodes, _, fabric := orphanFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeReturning, 4096, 0)))

	require.NoError(t, cleaner.Clean("n1", nil))

	assert.Empty(t, fabric.recorded())
	node, err := nodes.FindByID("n1")
	require.NoError(t, err)
	assert.Equal(t, models.NodeActive, node.Status)
}

func TestOrphanCleanIgnoresDestroyedAssignments(t *testing.T) {
	cleaner, nodes, bots, fabric := orphanFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeReturning, 4096, 0)))
	destroyed := testBot("b1", "t1", "n1", models.TierStarter, 512)
	destroyed.BillingState = models.BillingDestroyed
	require.NoError(t, bots.Create(destroyed))

	require.NoError(t, cleaner.Clean("n1", []ContainerReport{{Name: "bot-t1.b1", MemoryMB: 512}}))

	// A destroyed workload does not anchor its container to the node.
	assert.Equal(t, []string{"bot.stop:n1:bot-t1.b1"}, fabric.recorded())
}
