package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/config"
)

func budgetFixture(t *testing.T) (*BudgetChecker, *repository.MemoryMeterStore, time.Time) {
	t.Helper()
	cfg := &config.Config{BudgetCacheTTL: time.Second}
	meters := repository.NewMemoryMeterStore()
	checker := NewBudgetChecker(cfg, meters, repository.NewMemoryCustomerStore())
	now := time.Date(2026, 8, 24, 12, 30, 0, 0, time.UTC)
	checker.now = func() time.Time { return now }
	return checker, meters, now
}

func TestBudgetCheckWithoutCustomerPasses(t *testing.T) {
	checker, _, _ := budgetFixture(t)
	assert.NoError(t, checker.Check("t1"))
}

func TestBudgetHourlyCap(t *testing.T) {
	checker, meters, now := budgetFixture(t)
	hourly := int64(100)
	require.NoError(t, checker.SetCaps("t1", &hourly, nil))

	// 99 cents this hour: under the cap.
	hour := now.Truncate(time.Hour)
	require.NoError(t, meters.UpsertSummary("t1", hour, 0, 99*int64(NanoPerCent)))
	assert.NoError(t, checker.Check("t1"))

	// One more cent reaches the cap.
	require.NoError(t, meters.UpsertSummary("t1", hour, 0, 1*int64(NanoPerCent)))
	checker.Invalidate("t1")
	err := checker.Check("t1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestBudgetMonthlyCap(t *testing.T) {
	checker, meters, now := budgetFixture(t)
	monthly := int64(1000)
	require.NoError(t, checker.SetCaps("t1", nil, &monthly))

	// Spend from a previous day counts toward the month but not the hour.
	require.NoError(t, meters.UpsertSummary("t1", now.Add(-48*time.Hour).Truncate(time.Hour), 0, 1000*int64(NanoPerCent)))
	err := checker.Check("t1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestBudgetCacheTTL(t *testing.T) {
	checker, meters, now := budgetFixture(t)
	hourly := int64(100)
	require.NoError(t, checker.SetCaps("t1", &hourly, nil))
	require.NoError(t, checker.Check("t1"))

	// New spend is invisible while the cached entry is fresh.
	require.NoError(t, meters.UpsertSummary("t1", now.Truncate(time.Hour), 0, 200*int64(NanoPerCent)))
	assert.NoError(t, checker.Check("t1"))

	// Past the TTL the spend is recomputed.
	checker.now = func() time.Time { return now.Add(2 * time.Second) }
	assert.ErrorIs(t, checker.Check("t1"), ErrBudgetExceeded)
}

func TestBudgetInvalidateForcesRecompute(t *testing.T) {
	checker, meters, now := budgetFixture(t)
	hourly := int64(100)
	require.NoError(t, checker.SetCaps("t1", &hourly, nil))
	require.NoError(t, checker.Check("t1"))

	require.NoError(t, meters.UpsertSummary("t1", now.Truncate(time.Hour), 0, 200*int64(NanoPerCent)))
	checker.Invalidate("t1")
	assert.ErrorIs(t, checker.Check("t1"), ErrBudgetExceeded)
}

func TestBudgetSetCapsCreatesCustomer(t *testing.T) {
	cfg := &config.Config{BudgetCacheTTL: time.Second}
	customers := repository.NewMemoryCustomerStore()
	checker := NewBudgetChecker(cfg, repository.NewMemoryMeterStore(), customers)

	hourly := int64(50)
	require.NoError(t, checker.SetCaps("t1", &hourly, nil))
	customer, err := customers.Find("t1")
	require.NoError(t, err)
	require.NotNil(t, customer)
	require.NotNil(t, customer.HourlyCapCents)
	assert.Equal(t, int64(50), *customer.HourlyCapCents)
	assert.Nil(t, customer.MonthlyCapCents)
}
