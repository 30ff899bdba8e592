package models

import (
	"time"
)

// TransactionType classifies a ledger entry
type TransactionType string

const (
	TransactionPurchase   TransactionType = "purchase"
	TransactionUsage      TransactionType = "usage"
	TransactionGrant      TransactionType = "grant"
	TransactionRefund     TransactionType = "refund"
	TransactionCorrection TransactionType = "correction"
)

// CreditTransaction is one append-only ledger entry. AmountCents is signed:
// positive credits, negative debits. ReferenceID carries a unique constraint
// so externally sourced events apply exactly once.
type CreditTransaction struct {
	ID                string          `gorm:"primaryKey;size:64" json:"id"`
	TenantID          string          `gorm:"size:64;not null;index" json:"tenant_id"`
	AmountCents       int64           `gorm:"not null" json:"amount_cents"`
	BalanceAfterCents int64           `gorm:"not null" json:"balance_after_cents"`
	Type              TransactionType `gorm:"size:20;not null;index" json:"type"`
	Description       string          `gorm:"size:512" json:"description"`
	ReferenceID       *string         `gorm:"size:128;uniqueIndex" json:"reference_id"`
	Source            string          `gorm:"size:64" json:"source"`
	CreatedAt         time.Time       `gorm:"not null;index" json:"created_at"`
}

// TableName specifies the table name
func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

// CreditBalance is the materialized balance per tenant. Invariant: equals the
// sum of AmountCents over the tenant's transactions, enforced by writing both
// inside one database transaction.
type CreditBalance struct {
	TenantID     string    `gorm:"primaryKey;size:64" json:"tenant_id"`
	BalanceCents int64     `gorm:"not null;default:0" json:"balance_cents"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name
func (CreditBalance) TableName() string {
	return "credit_balances"
}

// AutoTopupConfig holds a tenant's automatic top-up settings
type AutoTopupConfig struct {
	TenantID            string    `gorm:"primaryKey;size:64" json:"tenant_id"`
	Enabled             bool      `gorm:"not null;default:false" json:"enabled"`
	ThresholdCents      int64     `gorm:"not null" json:"threshold_cents"`
	AmountCents         int64     `gorm:"not null" json:"amount_cents"`
	ConsecutiveFailures int       `gorm:"not null;default:0" json:"consecutive_failures"`
	UpdatedAt           time.Time `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name
func (AutoTopupConfig) TableName() string {
	return "auto_topup_configs"
}

// TenantCustomer links a tenant to its external payment-processor customer and
// holds the per-tenant spend caps used for admission control (nil = unlimited).
type TenantCustomer struct {
	TenantID            string    `gorm:"primaryKey;size:64" json:"tenant_id"`
	ProcessorCustomerID string    `gorm:"size:128;index" json:"processor_customer_id"`
	HourlyCapCents      *int64    `json:"hourly_cap_cents"`
	MonthlyCapCents     *int64    `json:"monthly_cap_cents"`
	CreatedAt           time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name
func (TenantCustomer) TableName() string {
	return "tenant_customers"
}
