package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type ApplyRequest struct {
	AccountID       snowflake.ID
	Amount          int64
	CreditType      CreditType
	TransactionType TransactionType
	IdempotencyKey  string
	Description     string
	Actor           string
}

// Balance is the cached pair of credit buckets.
type Balance struct {
	IncludedCredits  int64 `json:"included_credits"`
	PurchasedCredits int64 `json:"purchased_credits"`
}

func (b Balance) Total() int64 {
	return b.IncludedCredits + b.PurchasedCredits
}

type LedgerResult struct {
	Entry   CreditTransaction `json:"entry"`
	Balance Balance           `json:"balance"`
	// Replayed is true when the idempotency key had already been applied and
	// the stored entry was returned instead of writing a duplicate.
	Replayed bool `json:"replayed"`
}

// BalanceAudit is the outcome of comparing the cached balance against the
// ledger-derived sum.
type BalanceAudit struct {
	AccountID snowflake.ID `json:"account_id"`
	Cached    Balance      `json:"cached"`
	Derived   Balance      `json:"derived"`
	Drifted   bool         `json:"drifted"`
}

type Service interface {
	// Apply records one balance-affecting event at most once. Replays of an
	// already-applied idempotency key return the stored entry without error.
	Apply(ctx context.Context, req ApplyRequest) (*LedgerResult, error)
	// GetBalance reads the cached balance. Missing rows read as zero.
	GetBalance(ctx context.Context, accountID snowflake.ID) (Balance, error)
	// RebuildBalance re-sums the full ledger; the authoritative path when
	// cache divergence is suspected.
	RebuildBalance(ctx context.Context, accountID snowflake.ID) (Balance, error)
	// AuditBalance compares cache to ledger and repairs the cache on drift.
	AuditBalance(ctx context.Context, accountID snowflake.ID) (BalanceAudit, error)
}

var (
	ErrInvalidAccount         = errors.New("invalid_account")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidCreditType      = errors.New("invalid_credit_type")
	ErrInvalidTransactionType = errors.New("invalid_transaction_type")
	ErrMissingIdempotencyKey  = errors.New("missing_idempotency_key")
	// ErrInsufficientCredits rejects a usage debit that would drive either
	// credit bucket negative. Reported to the caller, not retried.
	ErrInsufficientCredits = errors.New("insufficient_credits")
	// ErrIdempotencyKeyConflict means the key was already used by a different
	// account or a materially different request.
	ErrIdempotencyKeyConflict = errors.New("idempotency_key_conflict")
)
