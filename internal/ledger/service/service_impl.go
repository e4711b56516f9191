package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	auditdomain "github.com/reviewloop/reviewloop/internal/audit/domain"
	ledgerdomain "github.com/reviewloop/reviewloop/internal/ledger/domain"
	obsmetrics "github.com/reviewloop/reviewloop/internal/observability/metrics"
	"github.com/reviewloop/reviewloop/pkg/db"
)

// ErrBalanceConflict signals a lost compare-and-set on the balance cache.
// Transient; the identical call (same idempotency key) is safe to retry.
var ErrBalanceConflict = errors.New("balance_conflict")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// Apply writes one ledger entry and the matching balance update as a single
// transaction. The balance row is locked for the read-modify-write, the
// entry insert rides the unique idempotency-key index, and the balance write
// is guarded by a compare-and-set, so neither a retry nor a concurrent
// duplicate can double-apply.
func (s *Service) Apply(ctx context.Context, req ledgerdomain.ApplyRequest) (*ledgerdomain.LedgerResult, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if err := validate(req, key); err != nil {
		return nil, err
	}

	var (
		result      *ledgerdomain.LedgerResult
		floorBroken bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.findByKey(ctx, tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return s.replay(ctx, tx, req, existing, &result)
		}

		balance, err := s.lockBalance(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}

		included := balance.IncludedCredits
		purchased := balance.PurchasedCredits
		switch req.CreditType {
		case ledgerdomain.CreditTypeIncluded:
			included += req.Amount
		case ledgerdomain.CreditTypePurchased:
			purchased += req.Amount
		}

		if included < 0 || purchased < 0 {
			if req.TransactionType != ledgerdomain.TransactionTypeManualAdjust {
				return ledgerdomain.ErrInsufficientCredits
			}
			// Operators may break the floor; the actor is audit-logged.
			floorBroken = true
		}

		now := time.Now().UTC()
		entry := ledgerdomain.CreditTransaction{
			ID:              s.genID.Generate(),
			AccountID:       req.AccountID,
			Amount:          req.Amount,
			BalanceAfter:    balance.IncludedCredits + balance.PurchasedCredits + req.Amount,
			CreditType:      req.CreditType,
			TransactionType: req.TransactionType,
			Description:     strings.TrimSpace(req.Description),
			CreatedBy:       strings.TrimSpace(req.Actor),
			IdempotencyKey:  key,
			CreatedAt:       now,
		}

		res := tx.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "idempotency_key"}},
				DoNothing: true,
			}).
			Create(&entry)
		if res.Error != nil {
			if db.IsDuplicateKeyErr(res.Error) {
				res.Error = nil
			} else {
				return res.Error
			}
		}
		if res.RowsAffected == 0 {
			// Lost the race against a concurrent identical submission.
			raced, err := s.findByKey(ctx, tx, key)
			if err != nil {
				return err
			}
			if raced == nil {
				return ErrBalanceConflict
			}
			return s.replay(ctx, tx, req, raced, &result)
		}

		update := tx.WithContext(ctx).Exec(
			`UPDATE credit_balances
			 SET included_credits = ?, purchased_credits = ?, updated_at = ?
			 WHERE account_id = ? AND included_credits = ? AND purchased_credits = ?`,
			included,
			purchased,
			now,
			req.AccountID,
			balance.IncludedCredits,
			balance.PurchasedCredits,
		)
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return ErrBalanceConflict
		}

		result = &ledgerdomain.LedgerResult{
			Entry: entry,
			Balance: ledgerdomain.Balance{
				IncludedCredits:  included,
				PurchasedCredits: purchased,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		s.obsMetrics.RecordLedgerEntry(ctx, string(req.TransactionType))
		if req.TransactionType == ledgerdomain.TransactionTypeManualAdjust {
			s.auditManualAdjust(ctx, req, result, floorBroken)
		}
	}
	return result, nil
}

func (s *Service) GetBalance(ctx context.Context, accountID snowflake.ID) (ledgerdomain.Balance, error) {
	if accountID == 0 {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAccount
	}
	return s.readBalance(ctx, s.db, accountID)
}

func (s *Service) RebuildBalance(ctx context.Context, accountID snowflake.ID) (ledgerdomain.Balance, error) {
	if accountID == 0 {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAccount
	}
	return s.deriveBalance(ctx, s.db, accountID)
}

// AuditBalance compares the cached balance against the ledger-derived sum
// and repairs the cache when they diverge. The ledger wins.
func (s *Service) AuditBalance(ctx context.Context, accountID snowflake.ID) (ledgerdomain.BalanceAudit, error) {
	if accountID == 0 {
		return ledgerdomain.BalanceAudit{}, ledgerdomain.ErrInvalidAccount
	}

	var audit ledgerdomain.BalanceAudit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cached, err := s.lockBalance(ctx, tx, accountID)
		if err != nil {
			return err
		}
		derived, err := s.deriveBalance(ctx, tx, accountID)
		if err != nil {
			return err
		}

		audit = ledgerdomain.BalanceAudit{
			AccountID: accountID,
			Cached: ledgerdomain.Balance{
				IncludedCredits:  cached.IncludedCredits,
				PurchasedCredits: cached.PurchasedCredits,
			},
			Derived: derived,
		}
		if audit.Cached == audit.Derived {
			return nil
		}

		audit.Drifted = true
		return tx.WithContext(ctx).Exec(
			`UPDATE credit_balances
			 SET included_credits = ?, purchased_credits = ?, updated_at = ?
			 WHERE account_id = ?`,
			derived.IncludedCredits,
			derived.PurchasedCredits,
			time.Now().UTC(),
			accountID,
		).Error
	})
	if err != nil {
		return ledgerdomain.BalanceAudit{}, err
	}

	if audit.Drifted {
		s.log.Warn("credit balance cache diverged from ledger",
			zap.String("account_id", accountID.String()),
			zap.Int64("cached_included", audit.Cached.IncludedCredits),
			zap.Int64("cached_purchased", audit.Cached.PurchasedCredits),
			zap.Int64("derived_included", audit.Derived.IncludedCredits),
			zap.Int64("derived_purchased", audit.Derived.PurchasedCredits),
		)
		s.obsMetrics.RecordBalanceDrift(ctx)
		resourceID := accountID.String()
		metadata := map[string]any{
			"cached":  audit.Cached,
			"derived": audit.Derived,
		}
		if err := s.auditSvc.AuditLog(ctx, &accountID, auditdomain.ActorTypeSystem, nil, "ledger.balance_repaired", "credit_balance", &resourceID, metadata); err != nil {
			s.log.Warn("failed to write balance audit log", zap.Error(err))
		}
	}
	return audit, nil
}

func (s *Service) replay(ctx context.Context, tx *gorm.DB, req ledgerdomain.ApplyRequest, existing *ledgerdomain.CreditTransaction, out **ledgerdomain.LedgerResult) error {
	if existing.AccountID != req.AccountID {
		return ledgerdomain.ErrIdempotencyKeyConflict
	}
	balance, err := s.readBalance(ctx, tx, req.AccountID)
	if err != nil {
		return err
	}
	*out = &ledgerdomain.LedgerResult{
		Entry:    *existing,
		Balance:  balance,
		Replayed: true,
	}
	return nil
}

func (s *Service) findByKey(ctx context.Context, tx *gorm.DB, key string) (*ledgerdomain.CreditTransaction, error) {
	var entry ledgerdomain.CreditTransaction
	err := tx.WithContext(ctx).Where("idempotency_key = ?", key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// lockBalance creates the balance row lazily, then locks it for the rest of
// the transaction.
func (s *Service) lockBalance(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*ledgerdomain.CreditBalance, error) {
	seed := ledgerdomain.CreditBalance{
		AccountID: accountID,
		UpdatedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error; err != nil && !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	var balance ledgerdomain.CreditBalance
	if err := db.ForUpdate(tx.WithContext(ctx)).
		Where("account_id = ?", accountID).
		First(&balance).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (s *Service) readBalance(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (ledgerdomain.Balance, error) {
	var balance ledgerdomain.CreditBalance
	err := tx.WithContext(ctx).Where("account_id = ?", accountID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledgerdomain.Balance{}, nil
		}
		return ledgerdomain.Balance{}, err
	}
	return ledgerdomain.Balance{
		IncludedCredits:  balance.IncludedCredits,
		PurchasedCredits: balance.PurchasedCredits,
	}, nil
}

func (s *Service) deriveBalance(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (ledgerdomain.Balance, error) {
	var rows []struct {
		CreditType ledgerdomain.CreditType
		Total      int64
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT credit_type, COALESCE(SUM(amount), 0) AS total
		 FROM credit_transactions
		 WHERE account_id = ?
		 GROUP BY credit_type`,
		accountID,
	).Scan(&rows).Error
	if err != nil {
		return ledgerdomain.Balance{}, err
	}

	var balance ledgerdomain.Balance
	for _, row := range rows {
		switch row.CreditType {
		case ledgerdomain.CreditTypeIncluded:
			balance.IncludedCredits = row.Total
		case ledgerdomain.CreditTypePurchased:
			balance.PurchasedCredits = row.Total
		}
	}
	return balance, nil
}

func (s *Service) auditManualAdjust(ctx context.Context, req ledgerdomain.ApplyRequest, result *ledgerdomain.LedgerResult, floorBroken bool) {
	accountID := req.AccountID
	resourceID := result.Entry.ID.String()
	actor := strings.TrimSpace(req.Actor)
	metadata := map[string]any{
		"amount":        req.Amount,
		"credit_type":   string(req.CreditType),
		"description":   result.Entry.Description,
		"balance_after": result.Entry.BalanceAfter,
		"floor_broken":  floorBroken,
	}
	if err := s.auditSvc.AuditLog(ctx, &accountID, auditdomain.ActorTypeOperator, &actor, "ledger.manual_adjust", "credit_transaction", &resourceID, metadata); err != nil {
		s.log.Warn("failed to write manual adjust audit log", zap.Error(err))
	}
}

func validate(req ledgerdomain.ApplyRequest, key string) error {
	if req.AccountID == 0 {
		return ledgerdomain.ErrInvalidAccount
	}
	if key == "" {
		return ledgerdomain.ErrMissingIdempotencyKey
	}
	if !req.CreditType.Valid() {
		return ledgerdomain.ErrInvalidCreditType
	}
	if !req.TransactionType.Valid() {
		return ledgerdomain.ErrInvalidTransactionType
	}
	if req.Amount == 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	switch req.TransactionType {
	case ledgerdomain.TransactionTypeUsage:
		if req.Amount > 0 {
			return ledgerdomain.ErrInvalidAmount
		}
	case ledgerdomain.TransactionTypeSubscriptionGrant,
		ledgerdomain.TransactionTypePurchase,
		ledgerdomain.TransactionTypeRenewal:
		if req.Amount < 0 {
			return ledgerdomain.ErrInvalidAmount
		}
	}
	return nil
}
