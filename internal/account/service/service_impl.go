package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/reviewloop/reviewloop/internal/account/domain"
	auditdomain "github.com/reviewloop/reviewloop/internal/audit/domain"
	"github.com/reviewloop/reviewloop/internal/catalog"
	obsmetrics "github.com/reviewloop/reviewloop/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Catalog    *catalog.Catalog
	Repo       accountdomain.Repository
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	catalog    *catalog.Catalog
	repo       accountdomain.Repository
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) accountdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("account.service"),
		genID:      p.GenID,
		catalog:    p.Catalog,
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Create(ctx context.Context, req accountdomain.CreateAccountRequest) (*accountdomain.Account, error) {
	now := time.Now().UTC()
	account := &accountdomain.Account{
		ID:                 s.genID.Generate(),
		Name:               strings.TrimSpace(req.Name),
		Plan:               catalog.PlanNone,
		BillingPeriod:      catalog.PeriodNone,
		SubscriptionStatus: accountdomain.SubscriptionStatusNone,
		IsFreeAccount:      req.IsFreeAccount,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.IsFreeAccount {
		account.Plan = catalog.PlanFree
	}
	if err := s.repo.Insert(ctx, s.db, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*accountdomain.Account, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

// Reconcile implements the drift-correction algorithm: extract the price from
// the snapshot's first line item, resolve it through the catalog, and compare
// the result against the stored billing fields. Identical state is a no-op;
// anything else is applied as one atomic update under a row lock on the
// account. Catalog and structure failures leave the account untouched.
func (s *Service) Reconcile(ctx context.Context, accountID snowflake.ID, sub accountdomain.ExternalSubscription) (accountdomain.ReconciliationResult, error) {
	priceID, status, err := s.validateSnapshot(accountID, sub)
	if err != nil {
		return accountdomain.ReconciliationResult{}, err
	}

	resolved, err := s.catalog.Resolve(priceID)
	if err != nil {
		s.log.Error("subscription price missing from catalog",
			zap.String("account_id", accountID.String()),
			zap.String("price_id", priceID),
			zap.String("external_subscription_id", sub.ID),
		)
		return accountdomain.ReconciliationResult{}, accountdomain.ErrUnknownPrice
	}

	var result accountdomain.ReconciliationResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.FindByIDForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}

		before := billingFieldsOf(account)
		after := accountdomain.BillingFields{
			Plan:                   resolved.Plan,
			BillingPeriod:          resolved.Period,
			SubscriptionStatus:     status,
			ExternalCustomerID:     strings.TrimSpace(sub.CustomerID),
			ExternalSubscriptionID: strings.TrimSpace(sub.ID),
			// Monotonic: a paid plan sets the flag, nothing clears it.
			HasHadPaidPlan: account.HasHadPaidPlan || resolved.Plan.Paid(),
		}

		if before == after {
			result = accountdomain.ReconciliationResult{
				Outcome: accountdomain.OutcomeAlreadyInSync,
				Before:  before,
				After:   before,
			}
			return nil
		}

		account.Plan = after.Plan
		account.BillingPeriod = after.BillingPeriod
		account.SubscriptionStatus = after.SubscriptionStatus
		account.ExternalCustomerID = optional(after.ExternalCustomerID)
		account.ExternalSubscriptionID = optional(after.ExternalSubscriptionID)
		account.HasHadPaidPlan = after.HasHadPaidPlan

		if err := s.repo.UpdateBillingFields(ctx, tx, account); err != nil {
			return err
		}

		result = accountdomain.ReconciliationResult{
			Outcome: accountdomain.OutcomeUpdated,
			Before:  before,
			After:   after,
		}
		return nil
	})
	if err != nil {
		return accountdomain.ReconciliationResult{}, err
	}

	s.obsMetrics.RecordReconciliation(ctx, string(result.Outcome))
	if result.Outcome == accountdomain.OutcomeUpdated {
		resourceID := accountID.String()
		metadata := map[string]any{
			"before": result.Before,
			"after":  result.After,
		}
		if err := s.auditSvc.AuditLog(ctx, &accountID, auditdomain.ActorTypeSystem, nil, "account.billing_reconciled", "account", &resourceID, metadata); err != nil {
			s.log.Warn("failed to write reconciliation audit log", zap.Error(err))
		}
	}
	return result, nil
}

func (s *Service) validateSnapshot(accountID snowflake.ID, sub accountdomain.ExternalSubscription) (string, accountdomain.SubscriptionStatus, error) {
	if len(sub.LineItems) == 0 {
		s.log.Warn("external subscription has no line items",
			zap.String("account_id", accountID.String()),
			zap.String("external_subscription_id", sub.ID),
		)
		return "", "", accountdomain.ErrInvalidSubscriptionStructure
	}
	priceID := strings.TrimSpace(sub.LineItems[0].PriceID)
	if priceID == "" || strings.TrimSpace(sub.ID) == "" {
		s.log.Warn("external subscription is malformed",
			zap.String("account_id", accountID.String()),
			zap.String("external_subscription_id", sub.ID),
		)
		return "", "", accountdomain.ErrInvalidSubscriptionStructure
	}
	status, err := accountdomain.ParseSubscriptionStatus(sub.Status)
	if err != nil {
		s.log.Warn("external subscription carries unknown status",
			zap.String("account_id", accountID.String()),
			zap.String("status", sub.Status),
		)
		return "", "", err
	}
	return priceID, status, nil
}

func billingFieldsOf(account *accountdomain.Account) accountdomain.BillingFields {
	return accountdomain.BillingFields{
		Plan:                   account.Plan,
		BillingPeriod:          account.BillingPeriod,
		SubscriptionStatus:     account.SubscriptionStatus,
		ExternalCustomerID:     deref(account.ExternalCustomerID),
		ExternalSubscriptionID: deref(account.ExternalSubscriptionID),
		HasHadPaidPlan:         account.HasHadPaidPlan,
	}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
