package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/botgrid/hosting/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreditRepository is the durable ledger store: an append-only transaction log
// plus a materialized balance row per tenant, written in one DB transaction.
type CreditRepository struct {
	db *gorm.DB
}

// NewCreditRepository creates a new credit repository
func NewCreditRepository(db *gorm.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// Append applies a ledger entry atomically. The balance row is locked for the
// duration of the transaction so concurrent appends serialize per tenant. When
// tx.ReferenceID collides with an existing row, the pre-existing transaction is
// returned with applied=false and nothing is written.
func (r *CreditRepository) Append(tx *models.CreditTransaction) (*models.CreditTransaction, bool, error) {
	var result *models.CreditTransaction
	applied := false

	err := r.db.Transaction(func(dbtx *gorm.DB) error {
		if tx.ReferenceID != nil {
			var existing models.CreditTransaction
			err := dbtx.Where("reference_id = ?", *tx.ReferenceID).First(&existing).Error
			if err == nil {
				result = &existing
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		var balance models.CreditBalance
		err := dbtx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ?", tx.TenantID).
			First(&balance).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			balance = models.CreditBalance{TenantID: tx.TenantID}
			if err := dbtx.Create(&balance).Error; err != nil {
				return fmt.Errorf("failed to create balance row: %w", err)
			}
		} else if err != nil {
			return err
		}

		balance.BalanceCents += tx.AmountCents
		balance.UpdatedAt = time.Now()
		tx.BalanceAfterCents = balance.BalanceCents
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = time.Now()
		}

		if err := dbtx.Create(tx).Error; err != nil {
			// Unique constraint backstop: a concurrent append with the same
			// reference won the race.
			if errors.Is(err, gorm.ErrDuplicatedKey) && tx.ReferenceID != nil {
				var existing models.CreditTransaction
				if ferr := r.db.Where("reference_id = ?", *tx.ReferenceID).First(&existing).Error; ferr == nil {
					result = &existing
					return gorm.ErrDuplicatedKey
				}
			}
			return fmt.Errorf("failed to append transaction: %w", err)
		}

		if err := dbtx.Save(&balance).Error; err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		result = tx
		applied = true
		return nil
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) && result != nil {
		return result, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

// Balance returns the materialized balance for a tenant (zero when absent)
func (r *CreditRepository) Balance(tenantID string) (int64, error) {
	var balance models.CreditBalance
	err := r.db.Where("tenant_id = ?", tenantID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance.BalanceCents, nil
}

// TransactionsByTenant returns the most recent ledger entries for a tenant
func (r *CreditRepository) TransactionsByTenant(tenantID string, limit int) ([]*models.CreditTransaction, error) {
	var txs []*models.CreditTransaction
	q := r.db.Where("tenant_id = ?", tenantID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&txs).Error
	return txs, err
}
