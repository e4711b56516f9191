package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindByExternalSubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*Account, error)
	UpdateBillingFields(ctx context.Context, db *gorm.DB, account *Account) error
	ListIDsWithSubscription(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
}
