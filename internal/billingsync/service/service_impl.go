package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/reviewloop/reviewloop/internal/account/domain"
	syncdomain "github.com/reviewloop/reviewloop/internal/billingsync/domain"
	"github.com/reviewloop/reviewloop/internal/catalog"
	"github.com/reviewloop/reviewloop/internal/config"
	ledgerdomain "github.com/reviewloop/reviewloop/internal/ledger/domain"
	obsmetrics "github.com/reviewloop/reviewloop/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Cfg         config.Config
	Fetcher     syncdomain.SubscriptionFetcher
	AccountSvc  accountdomain.Service
	AccountRepo accountdomain.Repository
	LedgerSvc   ledgerdomain.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	fetcher         syncdomain.SubscriptionFetcher
	accountSvc      accountdomain.Service
	accountRepo     accountdomain.Repository
	ledgerSvc       ledgerdomain.Service
	externalTimeout time.Duration
	obsMetrics      *obsmetrics.Metrics
}

func NewService(p Params) syncdomain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("billingsync.service"),
		fetcher:         p.Fetcher,
		accountSvc:      p.AccountSvc,
		accountRepo:     p.AccountRepo,
		ledgerSvc:       p.LedgerSvc,
		externalTimeout: p.Cfg.ExternalTimeout,
		obsMetrics:      p.ObsMetrics,
	}
}

func (s *Service) SyncAccount(ctx context.Context, accountID snowflake.ID) (syncdomain.SyncResult, error) {
	account, err := s.accountSvc.GetByID(ctx, accountID)
	if err != nil {
		return syncdomain.SyncResult{}, err
	}
	if account.ExternalSubscriptionID == nil || *account.ExternalSubscriptionID == "" {
		s.obsMetrics.RecordAccountSync(ctx, string(syncdomain.OutcomeNothingToSync))
		return syncdomain.SyncResult{Outcome: syncdomain.OutcomeNothingToSync}, nil
	}

	snapshot, err := s.fetch(ctx, *account.ExternalSubscriptionID)
	if err != nil {
		return syncdomain.SyncResult{}, fmt.Errorf("fetch subscription %s: %w", *account.ExternalSubscriptionID, err)
	}

	rec, err := s.accountSvc.Reconcile(ctx, accountID, snapshot)
	if err != nil {
		return syncdomain.SyncResult{}, err
	}

	s.obsMetrics.RecordAccountSync(ctx, string(syncdomain.OutcomeSynced))
	return syncdomain.SyncResult{
		Outcome:        syncdomain.OutcomeSynced,
		Reconciliation: &rec,
	}, nil
}

// HandleEvent routes a webhook event. Subscription lifecycle events trigger a
// fresh sync of the owning account; a paid invoice additionally grants the
// cycle's included credits, keyed on the event ID so redeliveries are no-ops.
func (s *Service) HandleEvent(ctx context.Context, event syncdomain.Event) error {
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Type) == "" {
		return syncdomain.ErrInvalidEvent
	}
	s.obsMetrics.RecordWebhookEvent(ctx, event.Type)

	switch event.Type {
	case syncdomain.EventSubscriptionCreated,
		syncdomain.EventSubscriptionUpdated,
		syncdomain.EventSubscriptionDeleted:
		_, err := s.syncBySubscription(ctx, event)
		return err
	case syncdomain.EventInvoicePaid:
		return s.handleInvoicePaid(ctx, event)
	default:
		s.log.Debug("ignoring webhook event",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
		)
		return nil
	}
}

func (s *Service) handleInvoicePaid(ctx context.Context, event syncdomain.Event) error {
	account, err := s.syncBySubscription(ctx, event)
	if err != nil || account == nil {
		return err
	}

	// Re-read after the sync so the grant reflects the plan on the invoice.
	account, err = s.accountSvc.GetByID(ctx, account.ID)
	if err != nil {
		return err
	}
	if !account.Plan.Paid() {
		return nil
	}
	amount := catalog.IncludedCreditsFor(account.Plan, account.BillingPeriod)
	if amount <= 0 {
		return nil
	}

	result, err := s.ledgerSvc.Apply(ctx, ledgerdomain.ApplyRequest{
		AccountID:       account.ID,
		Amount:          amount,
		CreditType:      ledgerdomain.CreditTypeIncluded,
		TransactionType: ledgerdomain.TransactionTypeRenewal,
		IdempotencyKey:  "renewal:" + event.ID,
		Description:     fmt.Sprintf("included credits for %s %s cycle", account.Plan, account.BillingPeriod),
	})
	if err != nil {
		return err
	}
	if result.Replayed {
		s.log.Info("renewal grant already applied",
			zap.String("event_id", event.ID),
			zap.String("account_id", account.ID.String()),
		)
	}
	return nil
}

// syncBySubscription resolves the event's subscription to an account and
// syncs it. A subscription no account references is not an error; platforms
// redeliver events and accounts get deleted.
func (s *Service) syncBySubscription(ctx context.Context, event syncdomain.Event) (*accountdomain.Account, error) {
	if strings.TrimSpace(event.SubscriptionID) == "" {
		return nil, syncdomain.ErrInvalidEvent
	}

	account, err := s.accountRepo.FindByExternalSubscriptionID(ctx, s.db, event.SubscriptionID)
	if err != nil {
		if errors.Is(err, accountdomain.ErrAccountNotFound) {
			s.log.Warn("webhook event for unknown subscription",
				zap.String("event_id", event.ID),
				zap.String("subscription_id", event.SubscriptionID),
			)
			return nil, nil
		}
		return nil, err
	}

	if _, err := s.SyncAccount(ctx, account.ID); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Service) fetch(ctx context.Context, subscriptionID string) (accountdomain.ExternalSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, s.externalTimeout)
	defer cancel()
	return s.fetcher.FetchSubscription(ctx, subscriptionID)
}
