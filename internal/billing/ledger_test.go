package billing

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botgrid/hosting/internal/events"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/repository"
)

func TestLedgerBalanceMatchesTransactionSum(t *testing.T) {
	store := repository.NewMemoryLedgerStore()
	svc := NewLedgerService(store, events.NewBus())

	_, err := svc.Credit("t1", 1000, models.TransactionPurchase, "purchase", nil, "test")
	require.NoError(t, err)
	_, err = svc.Debit("t1", 300, models.TransactionUsage, "usage", nil, "test")
	require.NoError(t, err)
	_, err = svc.Credit("t1", 50, models.TransactionGrant, "grant", nil, "test")
	require.NoError(t, err)

	balance, err := svc.Balance("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(750), balance)

	txs, err := svc.Transactions("t1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	var sum int64
	for _, tx := range txs {
		sum += tx.AmountCents
	}
	assert.Equal(t, balance, sum)
	// Newest first; its running balance matches the materialized one.
	assert.Equal(t, balance, txs[0].BalanceAfterCents)
}

func TestLedgerRandomizedInterleavingPreservesBalanceSum(t *testing.T) {
	svc := NewLedgerService(repository.NewMemoryLedgerStore(), events.NewBus())

	const workers = 8
	const opsPerWorker = 50

	var wg sync.WaitGroup
	var want int64
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < opsPerWorker; i++ {
				amount := int64(rng.Intn(500) + 1)
				if rng.Intn(2) == 0 {
					_, err := svc.Credit("t1", amount, models.TransactionPurchase, "purchase", nil, "test")
					assert.NoError(t, err)
					atomic.AddInt64(&want, amount)
				} else {
					_, err := svc.Debit("t1", amount, models.TransactionUsage, "usage", nil, "test")
					assert.NoError(t, err)
					atomic.AddInt64(&want, -amount)
				}
			}
		}(int64(w + 1))
	}
	wg.Wait()

	balance, err := svc.Balance("t1")
	require.NoError(t, err)
	assert.Equal(t, atomic.LoadInt64(&want), balance)

	txs, err := svc.Transactions("t1", 0)
	require.NoError(t, err)
	require.Len(t, txs, workers*opsPerWorker)

	// Newest first: every running balance is the previous one plus this
	// entry's amount, and the head matches the materialized balance.
	assert.Equal(t, balance, txs[0].BalanceAfterCents)
	for i := 0; i < len(txs)-1; i++ {
		assert.Equal(t, txs[i+1].BalanceAfterCents+txs[i].AmountCents, txs[i].BalanceAfterCents)
	}
	oldest := txs[len(txs)-1]
	assert.Equal(t, oldest.AmountCents, oldest.BalanceAfterCents)
}

func TestLedgerReferenceIdempotency(t *testing.T) {
	store := repository.NewMemoryLedgerStore()
	bus := events.NewBus()
	received := 0
	bus.Subscribe(events.CreditReceived, func(events.Event) { received++ })
	svc := NewLedgerService(store, bus)

	ref := "invoice-42"
	first, err := svc.Credit("t1", 500, models.TransactionPurchase, "purchase", &ref, "test")
	require.NoError(t, err)

	second, err := svc.Credit("t1", 500, models.TransactionPurchase, "purchase", &ref, "test")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	balance, err := svc.Balance("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
	assert.Equal(t, 1, received, "replay must not publish a second event")
}

func TestLedgerRejectsNonPositiveAmounts(t *testing.T) {
	svc := NewLedgerService(repository.NewMemoryLedgerStore(), events.NewBus())

	tests := []struct {
		name   string
		amount int64
	}{
		{"zero", 0},
		{"negative", -10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Credit("t1", tt.amount, models.TransactionPurchase, "", nil, "test")
			assert.Error(t, err)
			_, err = svc.Debit("t1", tt.amount, models.TransactionUsage, "", nil, "test")
			assert.Error(t, err)
		})
	}
}

func TestLedgerDebitMayGoNegative(t *testing.T) {
	bus := events.NewBus()
	var debitedBalance int64
	bus.Subscribe(events.CreditDebited, func(e events.Event) {
		debitedBalance, _ = e.Payload["balance_after"].(int64)
	})
	svc := NewLedgerService(repository.NewMemoryLedgerStore(), bus)

	_, err := svc.Debit("t1", 100, models.TransactionUsage, "usage", nil, "test")
	require.NoError(t, err)

	balance, err := svc.Balance("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(-100), balance)
	assert.Equal(t, int64(-100), debitedBalance)
}
