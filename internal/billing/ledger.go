package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/botgrid/hosting/internal/events"
	"github.com/botgrid/hosting/internal/models"
	"github.com/botgrid/hosting/internal/monitoring"
	"github.com/botgrid/hosting/internal/repository"
	"github.com/botgrid/hosting/pkg/logger"
)

// LedgerService is the single writer for credit balances. Every mutation is
// one append to the transaction log plus the balance update, performed
// atomically by the store. A referenceID makes the call idempotent: a replay
// returns the pre-existing transaction and publishes nothing.
type LedgerService struct {
	store repository.LedgerStore
	bus   *events.Bus
}

// NewLedgerService creates a ledger service
func NewLedgerService(store repository.LedgerStore, bus *events.Bus) *LedgerService {
	return &LedgerService{store: store, bus: bus}
}

// Credit adds funds to a tenant. amountCents must be positive.
func (s *LedgerService) Credit(tenantID string, amountCents int64, txType models.TransactionType, description string, referenceID *string, source string) (*models.CreditTransaction, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amountCents)
	}
	return s.append(tenantID, amountCents, txType, description, referenceID, source)
}

// Debit removes funds from a tenant. amountCents must be positive; the
// stored amount is negative. Balances may go negative; suspension is the
// billing state machine's job, not the ledger's.
func (s *LedgerService) Debit(tenantID string, amountCents int64, txType models.TransactionType, description string, referenceID *string, source string) (*models.CreditTransaction, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amountCents)
	}
	return s.append(tenantID, -amountCents, txType, description, referenceID, source)
}

func (s *LedgerService) append(tenantID string, amountCents int64, txType models.TransactionType, description string, referenceID *string, source string) (*models.CreditTransaction, error) {
	tx := &models.CreditTransaction{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		AmountCents: amountCents,
		Type:        txType,
		Description: description,
		ReferenceID: referenceID,
		Source:      source,
		CreatedAt:   time.Now().UTC(),
	}

	result, applied, err := s.store.Append(tx)
	if err != nil {
		return nil, err
	}
	if !applied {
		logger.Debug("duplicate ledger reference, returning prior transaction", map[string]interface{}{
			"tenant":    tenantID,
			"reference": derefOrEmpty(referenceID),
		})
		return result, nil
	}

	monitoring.LedgerTransactionsTotal.WithLabelValues(string(txType)).Inc()
	payload := map[string]interface{}{
		"tenant_id":     result.TenantID,
		"amount_cents":  result.AmountCents,
		"balance_after": result.BalanceAfterCents,
		"type":          string(result.Type),
	}
	if amountCents > 0 {
		s.bus.Publish(events.CreditReceived, payload)
	} else {
		s.bus.Publish(events.CreditDebited, payload)
	}
	return result, nil
}

// Balance returns the materialized balance in cents
func (s *LedgerService) Balance(tenantID string) (int64, error) {
	return s.store.Balance(tenantID)
}

// Transactions lists a tenant's most recent ledger entries
func (s *LedgerService) Transactions(tenantID string, limit int) ([]*models.CreditTransaction, error) {
	return s.store.TransactionsByTenant(tenantID, limit)
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
