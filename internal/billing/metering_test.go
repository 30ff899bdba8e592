package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgrid/hosting/internal/events"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/config"
)

func meteringFixture(t *testing.T) (*MeteringService, *LedgerService, *repository.MemoryMeterStore) {
	t.Helper()
	cfg := &config.Config{BudgetCacheTTL: time.Second}
	meters := repository.NewMemoryMeterStore()
	ledger := NewLedgerService(repository.NewMemoryLedgerStore(), events.NewBus())
	svc := NewMeteringService(cfg, meters, ledger, nil)
	return svc, ledger, meters
}

func TestMeteringCarriesSubCentRemainders(t *testing.T) {
	svc, ledger, _ := meteringFixture(t)
	_, err := ledger.Credit("t1", 100, models.TransactionPurchase, "purchase", nil, "test")
	require.NoError(t, err)

	// 0.4 cents per event: the first two accumulate, the third tips over a
	// whole cent.
	for i := 0; i < 2; i++ {
		require.NoError(t, svc.Consume(context.Background(), MeterInput{
			TenantID:   "t1",
			ChargeNano: 4_000_000,
			Capability: "chat",
			Provider:   "openai",
		}))
		balance, err := ledger.Balance("t1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)
	}

	require.NoError(t, svc.Consume(context.Background(), MeterInput{
		TenantID:   "t1",
		ChargeNano: 4_000_000,
		Capability: "chat",
		Provider:   "openai",
	}))
	balance, err := ledger.Balance("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(99), balance)
	assert.Equal(t, Credit(2_000_000), svc.carry["t1"])
}

func TestMeteringDebitIdempotentPerEvent(t *testing.T) {
	svc, ledger, _ := meteringFixture(t)
	_, err := ledger.Credit("t1", 100, models.TransactionPurchase, "purchase", nil, "test")
	require.NoError(t, err)

	event := &models.MeterEvent{
		ID:         "evt-1",
		TenantID:   "t1",
		ChargeNano: 10_000_000,
		Capability: "chat",
		Provider:   "openai",
	}
	require.NoError(t, svc.debit(event))
	require.NoError(t, svc.debit(event))

	balance, err := ledger.Balance("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(99), balance, "replayed event must debit once")
}

func TestMeteringRejectsEventWithoutTenant(t *testing.T) {
	svc, _, _ := meteringFixture(t)
	err := svc.Consume(context.Background(), MeterInput{ChargeNano: 10_000_000})
	assert.Error(t, err)
}

func TestMeteringFoldsIntoHourlyAggregate(t *testing.T) {
	svc, ledger, meters := meteringFixture(t)
	_, err := ledger.Credit("t1", 100, models.TransactionPurchase, "purchase", nil, "test")
	require.NoError(t, err)

	ts := time.Date(2026, 8, 24, 12, 15, 0, 0, time.UTC)
	require.NoError(t, svc.Consume(context.Background(), MeterInput{
		TenantID:   "t1",
		CostNano:   5_000_000,
		ChargeNano: 10_000_000,
		Capability: "chat",
		Provider:   "openai",
		Timestamp:  ts,
	}))

	// The aggregate covers the event's hour; the raw event is outside the
	// partial window and must not be double counted.
	spend, err := meters.SpendSince("t1", ts.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), spend)

	// A query starting inside the event's hour sees the raw event instead.
	spend, err = meters.SpendSince("t1", ts)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), spend)
}
