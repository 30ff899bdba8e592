package fleet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgrid/hosting/internal/events"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/repository"
)

func recoveryFixture(t *testing.T) (*RecoveryManager, *repository.MemoryNodeStore, *repository.MemoryBotStore, *repository.MemoryRecoveryStore, *fakeFabric) {
	t.Helper()
	nodes := repository.NewMemoryNodeStore()
	bots := repository.NewMemoryBotStore()
	recovery := repository.NewMemoryRecoveryStore()
	fabric := newFakeFabric(nodes, bots)
	r := NewRecoveryManager(testConfig(), nodes, bots, recovery, fabric, events.NewBus())
	return r, nodes, bots, recovery, fabric
}

func TestRecoverNodeHonorsTierPriority(t *testing.T) {
	r, nodes, bots, _, fabric := recoveryFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeUnhealthy, 4096, 2000)))
	require.NoError(t, nodes.Create(testNode("n2", models.NodeActive, 16384, 0)))

	require.NoError(t, bots.Create(testBot("b1", "t1", "n1", models.TierFree, 100)))
	require.NoError(t, bots.Create(testBot("b2", "t2", "n1", models.TierEnterprise, 100)))
	require.NoError(t, bots.Create(testBot("b3", "t3", "n1", models.TierPro, 100)))
	require.NoError(t, bots.Create(testBot("b4", "t4", "n1", models.TierFree, 100)))
	require.NoError(t, bots.Create(testBot("b5", "t5", "n1", models.TierStarter, 100)))

	event, err := r.RecoverNode("n1", models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.RecoveryCompleted, event.Status)
	assert.Equal(t, 5, event.Total)
	assert.Equal(t, 5, event.Recovered)

	// Enterprise first, free last, id ascending within a tier.
	assert.Equal(t, []string{
		"backup.download:n2:bot-t2.b2",
		"backup.download:n2:bot-t3.b3",
		"backup.download:n2:bot-t5.b5",
		"backup.download:n2:bot-t1.b1",
		"backup.download:n2:bot-t4.b4",
	}, fabric.recordedMatching(CmdBackupDownload))

	node, err := nodes.FindByID("n1")
	require.NoError(t, err)
	assert.Equal(t, models.NodeOffline, node.Status)

	for _, id := range []string{"b1", "b2", "b3", "b4", "b5"} {
		bot, err := bots.FindByID(id)
		require.NoError(t, err)
		require.NotNil(t, bot.NodeID)
		assert.Equal(t, "n2", *bot.NodeID)
	}
}

func TestRecoverNodeRestoresFromHotBackupKey(t *testing.T) {
	r, nodes, bots, recovery, fabric := recoveryFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeUnhealthy, 4096, 500)))
	require.NoError(t, nodes.Create(testNode("n2", models.NodeActive, 4096, 0)))
	require.NoError(t, bots.Create(testBot("b1", "t1", "n1", models.TierPro, 500)))

	event, err := r.RecoverNode("n1", models.TriggerHeartbeatTimeout)
	require.NoError(t, err)

	items, err := recovery.FindItems(event.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "latest/bot-t1.b1/latest.tar.gz", items[0].BackupKey)
	assert.Equal(t, models.ItemRecovered, items[0].Status)

	calls := fabric.recorded()
	assert.Contains(t, calls, "backup.download:n2:bot-t1.b1")
	assert.Contains(t, calls, "bot.import:n2:bot-t1.b1")
	assert.Contains(t, calls, "bot.inspect:n2:bot-t1.b1")
}

func TestRecoverNodeUnassignsSuspendedWorkloads(t *testing.T) {
	r, nodes, bots, _, fabric := recoveryFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeUnhealthy, 4096, 500)))
	require.NoError(t, nodes.Create(testNode("n2", models.NodeActive, 4096, 0)))
	require.NoError(t, bots.Create(testBot("b1", "t1", "n1", models.TierPro, 500)))
	suspended := testBot("b2", "t2", "n1", models.TierPro, 500)
	suspended.BillingState = models.BillingSuspended
	require.NoError(t, bots.Create(suspended))

	event, err := r.RecoverNode("n1", models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, event.Total)
	assert.Equal(t, []string{"backup.download:n2:bot-t1.b1"}, fabric.recordedMatching(CmdBackupDownload))

	// The suspended workload is not restored, and it must not keep pointing
	// at a node that just went offline; reactivation places it fresh.
	bot, err := bots.FindByID("b2")
	require.NoError(t, err)
	assert.Equal(t, models.BillingSuspended, bot.BillingState)
	assert.Nil(t, bot.NodeID)

	node, err := nodes.FindByID("n1")
	require.NoError(t, err)
	assert.Equal(t, models.NodeOffline, node.Status)
}

func TestRecoverNodeWithoutCapacityLeavesTenantsWaiting(t *testing.T) {
	r, nodes, bots, recovery, _ := recoveryFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeUnhealthy, 4096, 500)))
	require.NoError(t, bots.Create(testBot("b1", "t1", "n1", models.TierPro, 500)))

	event, err := r.RecoverNode("n1", models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.RecoveryPartial, event.Status)
	assert.Equal(t, 1, event.Waiting)
	assert.Equal(t, 0, event.Recovered)

	items, err := recovery.FindWaitingItems(event.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "no_capacity", items[0].Reason)

	// The dead node still goes offline; waiting tenants retry later.
	node, err := nodes.FindByID("n1")
	require.NoError(t, err)
	assert.Equal(t, models.NodeOffline, node.Status)
}

func TestRetryWaitingAfterCapacityAdded(t *testing.T) {
	r, nodes, bots, recovery, _ := recoveryFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeUnhealthy, 4096, 500)))
	require.NoError(t, bots.Create(testBot("b1", "t1", "n1", models.TierPro, 500)))

	event, err := r.RecoverNode("n1", models.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, models.RecoveryPartial, event.Status)

	require.NoError(t, nodes.Create(testNode("n2", models.NodeActive, 4096, 0)))

	event, err = r.RetryWaiting(event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecoveryCompleted, event.Status)
	assert.Equal(t, 0, event.Waiting)
	assert.Equal(t, 1, event.Recovered)

	items, err := recovery.FindItems(event.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ItemRetried, items[0].Status)
	require.NotNil(t, items[0].TargetNode)
	assert.Equal(t, "n2", *items[0].TargetNode)

	bot, err := bots.FindByID("b1")
	require.NoError(t, err)
	require.NotNil(t, bot.NodeID)
	assert.Equal(t, "n2", *bot.NodeID)
}

func TestRecoverNodeRejectsConcurrentRecovery(t *testing.T) {
	r, nodes, _, recovery, _ := recoveryFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeUnhealthy, 4096, 0)))
	require.NoError(t, recovery.CreateEvent(&models.RecoveryEvent{
		ID:        "ev1",
		NodeID:    "n1",
		Status:    models.RecoveryInProgress,
		StartedAt: time.Now().UTC(),
	}))

	_, err := r.RecoverNode("n1", models.TriggerManual)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")
}
