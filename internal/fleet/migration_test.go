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

func migrationFixture(t *testing.T) (*MigrationManager, *repository.MemoryNodeStore, *repository.MemoryBotStore, *fakeFabric, *events.Bus) {
	t.Helper()
	nodes := repository.NewMemoryNodeStore()
	bots := repository.NewMemoryBotStore()
	fabric := newFakeFabric(nodes, bots)
	bus := events.NewBus()
	m := NewMigrationManager(testConfig(), nodes, bots, fabric, bus)
	return m, nodes, bots, fabric, bus
}

func TestMigrateTenantOrdering(t *testing.T) {
	m, nodes, bots, fabric, _ := migrationFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeActive, 4096, 512)))
	require.NoError(t, nodes.Create(testNode("n2", models.NodeActive, 4096, 0)))
	require.NoError(t, bots.Create(testBot("b1", "t1", "n1", models.TierPro, 512)))

	result, err := m.MigrateTenant("b1", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "n1", result.SourceNode)
	assert.Equal(t, "n2", result.TargetNode)
	assert.LessOrEqual(t, result.Downtime, result.Duration)

	// The source serves through export, upload and download; the stop comes
	// only once the archive is already on the target.
	assert.Equal(t, []string{
		"bot.export:n1:bot-t1.b1",
		"backup.upload:n1:bot-t1.b1.tar.gz",
		"backup.download:n2:bot-t1.b1",
		"bot.stop:n1:bot-t1.b1",
		"bot.import:n2:bot-t1.b1",
		"bot.inspect:n2:bot-t1.b1",
	}, fabric.recorded())

	bot, err := bots.FindByID("b1")
	require.NoError(t, err)
	require.NotNil(t, bot.NodeID)
	assert.Equal(t, "n2", *bot.NodeID)

	source, err := nodes.FindByID("n1")
	require.NoError(t, err)
	assert.Equal(t, 0, source.UsedMB)
	target, err := nodes.FindByID("n2")
	require.NoError(t, err)
	assert.Equal(t, 512, target.UsedMB)
}

func TestMigrateTenantRollbackAfterStop(t *testing.T) {
	m, nodes, bots, fabric, _ := migrationFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeActive, 4096, 512)))
	require.NoError(t, nodes.Create(testNode("n2", models.NodeActive, 4096, 0)))
	require.NoError(t, bots.Create(testBot("b1", "t1", "n1", models.TierPro, 512)))
	fabric.fail[CmdBotImport] = fmt.Errorf("image pull failed")

	_, err := m.MigrateTenant("b1", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import")

	// The source container was stopped, so it is restarted on rollback.
	calls := fabric.recorded()
	assert.Contains(t, calls, "bot.stop:n1:bot-t1.b1")
	assert.Equal(t, "bot.start:n1:bot-t1.b1", calls[len(calls)-1])

	bot, err := bots.FindByID("b1")
	require.NoError(t, err)
	require.NotNil(t, bot.NodeID)
	assert.Equal(t, "n1", *bot.NodeID)
}

func TestMigrateTenantFailureBeforeStopSkipsRollback(t *testing.T) {
	m, nodes, bots, fabric, _ := migrationFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeActive, 4096, 512)))
	require.NoError(t, nodes.Create(testNode("n2", models.NodeActive, 4096, 0)))
	require.NoError(t, bots.Create(testBot("b1", "t1", "n1", models.TierPro, 512)))
	fabric.fail[CmdBackupDownload] = fmt.Errorf("storage unreachable")

	_, err := m.MigrateTenant("b1", "", 0)
	require.Error(t, err)

	// The source was never stopped, so nothing to restart.
	calls := fabric.recorded()
	assert.NotContains(t, calls, "bot.stop:n1:bot-t1.b1")
	assert.NotContains(t, calls, "bot.start:n1:bot-t1.b1")
}

func TestMigrateTenantVerifyNotRunningRollsBack(t *testing.T) {
	m, nodes, bots, fabric, _ := migrationFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeActive, 4096, 512)))
	require.NoError(t, nodes.Create(testNode("n2", models.NodeActive, 4096, 0)))
	require.NoError(t, bots.Create(testBot("b1", "t1", "n1", models.TierPro, 512)))
	fabric.notRunning = true

	_, err := m.MigrateTenant("b1", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
	assert.Contains(t, fabric.recorded(), "bot.start:n1:bot-t1.b1")
}

func TestMigrateTenantNoCapacity(t *testing.T) {
	m, nodes, bots, _, bus := migrationFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeActive, 4096, 512)))
	require.NoError(t, bots.Create(testBot("b1", "t1", "n1", models.TierPro, 512)))

	overflows := 0
	bus.Subscribe(events.CapacityOverflow, func(events.Event) { overflows++ })

	_, err := m.MigrateTenant("b1", "", 0)
	assert.ErrorIs(t, err, ErrNoCapacity)
	assert.Equal(t, 1, overflows)
}

func TestMigrateTenantRejectsConcurrentRun(t *testing.T) {
	m, nodes, bots, _, _ := migrationFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeActive, 4096, 512)))
	require.NoError(t, nodes.Create(testNode("n2", models.NodeActive, 4096, 0)))
	require.NoError(t, bots.Create(testBot("b1", "t1", "n1", models.TierPro, 512)))

	require.True(t, m.acquire("b1"))
	defer m.release("b1")

	_, err := m.MigrateTenant("b1", "", 0)
	assert.ErrorIs(t, err, ErrMigrationInFlight)
}

func TestMigrateTenantRejectsSameTarget(t *testing.T) {
	m, nodes, bots, _, _ := migrationFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeActive, 4096, 512)))
	require.NoError(t, bots.Create(testBot("b1", "t1", "n1", models.TierPro, 512)))

	_, err := m.MigrateTenant("b1", "n1", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "equals source")
}

func TestMigrateTenantUnplacedBot(t *testing.T) {
	m, _, bots, _, _ := migrationFixture(t)
	require.NoError(t, bots.Create(testBot("b1", "t1", "", models.TierPro, 512)))

	_, err := m.MigrateTenant("b1", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not placed")
}

func TestDrainNode(t *testing.T) {
	m, nodes, bots, _, _ := migrationFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeActive, 4096, 1024)))
	require.NoError(t, nodes.Create(testNode("n2", models.NodeActive, 8192, 0)))
	require.NoError(t, bots.Create(testBot("b1", "t1", "n1", models.TierPro, 512)))
	require.NoError(t, bots.Create(testBot("b2", "t2", "n1", models.TierStarter, 512)))

	result, err := m.DrainNode("n1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Migrated)
	assert.Empty(t, result.Failed)

	node, err := nodes.FindByID("n1")
	require.NoError(t, err)
	assert.Equal(t, models.NodeOffline, node.Status)

	for _, id := range []string{"b1", "b2"} {
		bot, err := bots.FindByID(id)
		require.NoError(t, err)
		require.NotNil(t, bot.NodeID)
		assert.Equal(t, "n2", *bot.NodeID)
	}
}

func TestDrainNodeWithFailuresStaysDraining(t *testing.T) {
	m, nodes, bots, fabric, bus := migrationFixture(t)
	require.NoError(t, nodes.Create(testNode("n1", models.NodeActive, 4096, 512)))
	require.NoError(t, nodes.Create(testNode("n2", models.NodeActive, 8192, 0)))
	require.NoError(t, bots.Create(testBot("b1", "t1", "n1", models.TierPro, 512)))
	fabric.fail[CmdBotExport] = fmt.Errorf("disk full")

	overflows := 0
	bus.Subscribe(events.CapacityOverflow, func(events.Event) { overflows++ })

	result, err := m.DrainNode("n1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Migrated)
	assert.Equal(t, []string{"b1"}, result.Failed)
	assert.Equal(t, 1, overflows)

	node, err := nodes.FindByID("n1")
	require.NoError(t, err)
	assert.Equal(t, models.NodeDraining, node.Status)
}
