// Package domain defines the prepaid credit ledger: an append-only log of
// balance-affecting events and a cached balance derived from it. The log is
// the source of truth; the cache is a rebuildable projection.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CreditType classifies prepaid credit.
type CreditType string

const (
	// CreditTypeIncluded credits replenish with the plan cycle.
	CreditTypeIncluded CreditType = "included"
	// CreditTypePurchased credits never expire and carry over.
	CreditTypePurchased CreditType = "purchased"
)

func (c CreditType) Valid() bool {
	return c == CreditTypeIncluded || c == CreditTypePurchased
}

// TransactionType tags why a ledger entry exists.
type TransactionType string

const (
	TransactionTypeManualAdjust      TransactionType = "manual_adjust"
	TransactionTypeSubscriptionGrant TransactionType = "subscription_grant"
	TransactionTypePurchase          TransactionType = "purchase"
	TransactionTypeUsage             TransactionType = "usage"
	TransactionTypeRenewal           TransactionType = "renewal"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeManualAdjust, TransactionTypeSubscriptionGrant,
		TransactionTypePurchase, TransactionTypeUsage, TransactionTypeRenewal:
		return true
	default:
		return false
	}
}

// CreditTransaction is one immutable ledger entry. Entries are never updated
// or deleted; corrections are new entries. The idempotency key's uniqueness
// is enforced by the storage layer, not application logic, so concurrent
// duplicate submissions cannot double-apply.
type CreditTransaction struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	AccountID       snowflake.ID    `gorm:"not null;index"`
	Amount          int64           `gorm:"not null"`
	BalanceAfter    int64           `gorm:"not null"`
	CreditType      CreditType      `gorm:"type:text;not null"`
	TransactionType TransactionType `gorm:"type:text;not null;index"`
	Description     string          `gorm:"type:text"`
	CreatedBy       string          `gorm:"type:text"`
	IdempotencyKey  string          `gorm:"type:text;not null;uniqueIndex:ux_credit_transactions_idempotency_key"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// CreditBalance caches the per-account balance, created lazily on the first
// credit event. Always re-derivable by summing the ledger.
type CreditBalance struct {
	AccountID        snowflake.ID `gorm:"primaryKey"`
	IncludedCredits  int64        `gorm:"not null;default:0"`
	PurchasedCredits int64        `gorm:"not null;default:0"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditBalance) TableName() string { return "credit_balances" }
