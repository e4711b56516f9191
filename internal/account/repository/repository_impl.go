package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	accountdomain "github.com/reviewloop/reviewloop/internal/account/domain"
	"github.com/reviewloop/reviewloop/pkg/db"
)

type repo struct{}

func Provide() accountdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, account *accountdomain.Account) error {
	return conn.WithContext(ctx).Create(account).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := conn.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accountdomain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := db.ForUpdate(conn.WithContext(ctx)).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accountdomain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *repo) FindByExternalSubscriptionID(ctx context.Context, conn *gorm.DB, subscriptionID string) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := conn.WithContext(ctx).Where("external_subscription_id = ?", subscriptionID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accountdomain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *repo) UpdateBillingFields(ctx context.Context, conn *gorm.DB, account *accountdomain.Account) error {
	return conn.WithContext(ctx).Model(&accountdomain.Account{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"plan":                     account.Plan,
			"billing_period":           account.BillingPeriod,
			"external_customer_id":     account.ExternalCustomerID,
			"external_subscription_id": account.ExternalSubscriptionID,
			"subscription_status":      account.SubscriptionStatus,
			"has_had_paid_plan":        account.HasHadPaidPlan,
			"updated_at":               time.Now().UTC(),
		}).Error
}

func (r *repo) ListIDsWithSubscription(ctx context.Context, conn *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := conn.WithContext(ctx).Model(&accountdomain.Account{}).
		Where("external_subscription_id IS NOT NULL AND id > ?", afterID).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
