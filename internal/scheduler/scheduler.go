// Package scheduler drives the periodic maintenance loop: re-syncing every
// subscribed account against the payment platform and auditing cached credit
// balances against the ledger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/reviewloop/reviewloop/internal/account/domain"
	syncdomain "github.com/reviewloop/reviewloop/internal/billingsync/domain"
	"github.com/reviewloop/reviewloop/internal/clock"
	ledgerdomain "github.com/reviewloop/reviewloop/internal/ledger/domain"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	AccountRepo accountdomain.Repository
	SyncSvc     syncdomain.Service
	LedgerSvc   ledgerdomain.Service
	Clock       clock.Clock
	Config      Config `optional:"true"`
}

type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	clock       clock.Clock
	accountRepo accountdomain.Repository
	syncSvc     syncdomain.Service
	ledgerSvc   ledgerdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.AccountRepo == nil || p.SyncSvc == nil || p.LedgerSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler"),
		cfg:         p.Config.withDefaults(),
		clock:       p.Clock,
		accountRepo: p.AccountRepo,
		syncSvc:     p.SyncSvc,
		ledgerSvc:   p.LedgerSvc,
	}, nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	err = errors.Join(err, s.runJob(parent, "account_sync", s.AccountSyncJob))
	err = errors.Join(err, s.runJob(parent, "balance_audit", s.BalanceAuditJob))
	return err
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	err := fn(ctx)
	log.Info("job finished", zap.Duration("duration", time.Since(start)))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out",
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
	}
}

// AccountSyncJob re-syncs every account with a subscription reference, in ID
// order, one batch at a time. A failure on one account does not stop the
// sweep.
func (s *Scheduler) AccountSyncJob(ctx context.Context) error {
	var errs error
	err := s.forEachSubscribedAccount(ctx, func(accountID snowflake.ID) {
		if _, err := s.syncSvc.SyncAccount(ctx, accountID); err != nil {
			s.log.Warn("account sync failed",
				zap.String("account_id", accountID.String()),
				zap.Error(err),
			)
			errs = errors.Join(errs, err)
		}
	})
	return errors.Join(errs, err)
}

// BalanceAuditJob compares cached balances against the ledger and repairs
// drift. The audit logs and metrics are handled inside the ledger service.
func (s *Scheduler) BalanceAuditJob(ctx context.Context) error {
	var errs error
	err := s.forEachSubscribedAccount(ctx, func(accountID snowflake.ID) {
		if _, err := s.ledgerSvc.AuditBalance(ctx, accountID); err != nil {
			s.log.Warn("balance audit failed",
				zap.String("account_id", accountID.String()),
				zap.Error(err),
			)
			errs = errors.Join(errs, err)
		}
	})
	return errors.Join(errs, err)
}

func (s *Scheduler) forEachSubscribedAccount(ctx context.Context, fn func(accountID snowflake.ID)) error {
	var afterID snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ids, err := s.accountRepo.ListIDsWithSubscription(ctx, s.db, afterID, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		for _, id := range ids {
			fn(id)
		}
		afterID = ids[len(ids)-1]
	}
}
