package billing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgrid/hosting/internal/events"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/config"
)

// failingLedgerStore wraps a memory ledger and fails Append for a chosen
// tenant once the amount is negative, simulating a tenant whose correction
// cannot be applied during an undo.
type failingLedgerStore struct {
	*repository.MemoryLedgerStore
	failTenant string
}

func (s *failingLedgerStore) Append(tx *models.CreditTransaction) (*models.CreditTransaction, bool, error) {
	if tx.TenantID == s.failTenant && tx.AmountCents < 0 {
		return nil, false, fmt.Errorf("ledger unavailable for %s", tx.TenantID)
	}
	return s.MemoryLedgerStore.Append(tx)
}

func bulkFixture(t *testing.T, store repository.LedgerStore) (*BulkService, *LedgerService, *repository.MemoryGrantStore) {
	t.Helper()
	cfg := &config.Config{
		BulkMaxTenants:       100,
		BulkUndoWindow:       time.Hour,
		SuspensionGraceDays:  30,
		DestroySweepInterval: time.Hour,
	}
	bus := events.NewBus()
	ledger := NewLedgerService(store, bus)
	bots := repository.NewMemoryBotStore()
	billing := NewBotBillingService(cfg, bots, ledger, nil, nil, bus)
	grants := repository.NewMemoryGrantStore()
	return NewBulkService(cfg, ledger, billing, bots, grants), ledger, grants
}

func TestBulkGrantAndUndo(t *testing.T) {
	svc, ledger, _ := bulkFixture(t, repository.NewMemoryLedgerStore())
	tenants := []string{"t1", "t2", "t3"}

	result, err := svc.Grant(tenants, 500, "launch promo")
	require.NoError(t, err)
	assert.Len(t, result.Succeeded, 3)
	assert.Empty(t, result.Failed)
	require.NotNil(t, result.UndoDeadline)

	for _, tenant := range tenants {
		balance, err := ledger.Balance(tenant)
		require.NoError(t, err)
		assert.Equal(t, int64(500), balance)
	}

	undo, err := svc.UndoGrant(result.OperationID)
	require.NoError(t, err)
	assert.Len(t, undo.Succeeded, 3)
	for _, tenant := range tenants {
		balance, err := ledger.Balance(tenant)
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	}
}

func TestBulkUndoAfterDeadline(t *testing.T) {
	svc, ledger, _ := bulkFixture(t, repository.NewMemoryLedgerStore())

	result, err := svc.Grant([]string{"t1"}, 500, "promo")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.UndoGrant(result.OperationID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")

	balance, err := ledger.Balance("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
}

func TestBulkUndoTwiceRejected(t *testing.T) {
	svc, _, _ := bulkFixture(t, repository.NewMemoryLedgerStore())

	result, err := svc.Grant([]string{"t1"}, 500, "promo")
	require.NoError(t, err)

	_, err = svc.UndoGrant(result.OperationID)
	require.NoError(t, err)
	_, err = svc.UndoGrant(result.OperationID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already undone")
}

func TestBulkUndoPartialFailure(t *testing.T) {
	store := &failingLedgerStore{
		MemoryLedgerStore: repository.NewMemoryLedgerStore(),
		failTenant:        "t2",
	}
	svc, ledger, grants := bulkFixture(t, store)

	result, err := svc.Grant([]string{"t1", "t2", "t3"}, 500, "promo")
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 3)

	undo, err := svc.UndoGrant(result.OperationID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t3"}, undo.Succeeded)
	assert.Contains(t, undo.Failed, "t2")

	op, err := grants.FindByID(result.OperationID)
	require.NoError(t, err)
	assert.Equal(t, models.UndoPartial, op.UndoStatus)

	// The failed tenant keeps its grant; a partial undo is final.
	balance, err := ledger.Balance("t2")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
	_, err = svc.UndoGrant(result.OperationID)
	require.Error(t, err)
}

func TestBulkGrantValidation(t *testing.T) {
	svc, _, _ := bulkFixture(t, repository.NewMemoryLedgerStore())

	tooMany := make([]string, 101)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("t%d", i)
	}

	tests := []struct {
		name    string
		tenants []string
		amount  int64
	}{
		{"empty list", nil, 500},
		{"over cap", tooMany, 500},
		{"blank tenant id", []string{"t1", ""}, 500},
		{"zero amount", []string{"t1"}, 0},
		{"negative amount", []string{"t1"}, -100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Grant(tt.tenants, tt.amount, "promo")
			assert.Error(t, err)
		})
	}
}

func TestBulkGrantIsUndoableExactlyForSucceededTenants(t *testing.T) {
	grantFail := &grantFailingStore{MemoryLedgerStore: repository.NewMemoryLedgerStore(), failTenant: "t2"}
	svc, ledger, _ := bulkFixture(t, grantFail)
	result, err := svc.Grant([]string{"t1", "t2"}, 500, "promo")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, result.Succeeded)
	assert.Contains(t, result.Failed, "t2")

	undo, err := svc.UndoGrant(result.OperationID)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, undo.Succeeded)
	balance, err := ledger.Balance("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

type grantFailingStore struct {
	*repository.MemoryLedgerStore
	failTenant string
}

func (s *grantFailingStore) Append(tx *models.CreditTransaction) (*models.CreditTransaction, bool, error) {
	if tx.TenantID == s.failTenant {
		return nil, false, fmt.Errorf("ledger unavailable for %s", tx.TenantID)
	}
	return s.MemoryLedgerStore.Append(tx)
}
