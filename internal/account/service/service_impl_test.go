package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/reviewloop/reviewloop/internal/account/domain"
	accountrepo "github.com/reviewloop/reviewloop/internal/account/repository"
	auditdomain "github.com/reviewloop/reviewloop/internal/audit/domain"
	auditrepo "github.com/reviewloop/reviewloop/internal/audit/repository"
	auditservice "github.com/reviewloop/reviewloop/internal/audit/service"
	"github.com/reviewloop/reviewloop/internal/catalog"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&accountdomain.Account{}, &auditdomain.AuditLog{}))
	return conn
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	conn := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cat, err := catalog.New([]catalog.Entry{
		{Plan: catalog.PlanStarter, Period: catalog.PeriodMonthly, PriceID: "price_starter_m"},
		{Plan: catalog.PlanGrower, Period: catalog.PeriodMonthly, PriceID: "price_grower_m"},
		{Plan: catalog.PlanBuilder, Period: catalog.PeriodAnnual, PriceID: "price_builder_y"},
	})
	require.NoError(t, err)

	log := zap.NewNop()
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Repo:  auditrepo.Provide(),
	})

	svc := NewService(Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Catalog:  cat,
		Repo:     accountrepo.Provide(),
		AuditSvc: auditSvc,
	})
	return svc.(*Service), conn, node
}

func seedAccount(t *testing.T, svc *Service) *accountdomain.Account {
	t.Helper()
	account, err := svc.Create(context.Background(), accountdomain.CreateAccountRequest{Name: "Acme Dental"})
	require.NoError(t, err)
	return account
}

func TestReconcileUpdatesThenAlreadyInSync(t *testing.T) {
	svc, conn, _ := newTestService(t)
	account := seedAccount(t, svc)
	ctx := context.Background()

	sub := accountdomain.ExternalSubscription{
		ID:         "sub_123",
		CustomerID: "cus_123",
		Status:     "active",
		LineItems:  []accountdomain.LineItem{{PriceID: "price_grower_m"}},
	}

	result, err := svc.Reconcile(ctx, account.ID, sub)
	require.NoError(t, err)
	assert.Equal(t, accountdomain.OutcomeUpdated, result.Outcome)
	assert.Equal(t, catalog.PlanGrower, result.After.Plan)
	assert.Equal(t, catalog.PeriodMonthly, result.After.BillingPeriod)
	assert.True(t, result.After.HasHadPaidPlan)
	assert.Equal(t, catalog.PlanNone, result.Before.Plan)

	// Identical snapshot is a no-op.
	again, err := svc.Reconcile(ctx, account.ID, sub)
	require.NoError(t, err)
	assert.Equal(t, accountdomain.OutcomeAlreadyInSync, again.Outcome)
	assert.Equal(t, again.Before, again.After)

	var stored accountdomain.Account
	require.NoError(t, conn.First(&stored, "id = ?", account.ID).Error)
	assert.Equal(t, catalog.PlanGrower, stored.Plan)
	assert.Equal(t, accountdomain.SubscriptionStatusActive, stored.SubscriptionStatus)
	require.NotNil(t, stored.ExternalSubscriptionID)
	assert.Equal(t, "sub_123", *stored.ExternalSubscriptionID)
	require.NotNil(t, stored.ExternalCustomerID)
	assert.Equal(t, "cus_123", *stored.ExternalCustomerID)
}

func TestReconcilePlanChange(t *testing.T) {
	svc, _, _ := newTestService(t)
	account := seedAccount(t, svc)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, account.ID, accountdomain.ExternalSubscription{
		ID:        "sub_123",
		Status:    "active",
		LineItems: []accountdomain.LineItem{{PriceID: "price_grower_m"}},
	})
	require.NoError(t, err)

	// The platform now reports the builder/annual price.
	result, err := svc.Reconcile(ctx, account.ID, accountdomain.ExternalSubscription{
		ID:        "sub_123",
		Status:    "active",
		LineItems: []accountdomain.LineItem{{PriceID: "price_builder_y"}},
	})
	require.NoError(t, err)
	assert.Equal(t, accountdomain.OutcomeUpdated, result.Outcome)
	assert.Equal(t, catalog.PlanBuilder, result.After.Plan)
	assert.Equal(t, catalog.PeriodAnnual, result.After.BillingPeriod)
	assert.True(t, result.After.HasHadPaidPlan)
}

func TestReconcileUnknownPriceLeavesAccountUntouched(t *testing.T) {
	svc, conn, _ := newTestService(t)
	account := seedAccount(t, svc)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, account.ID, accountdomain.ExternalSubscription{
		ID:        "sub_123",
		Status:    "active",
		LineItems: []accountdomain.LineItem{{PriceID: "price_starter_m"}},
	})
	require.NoError(t, err)

	var before accountdomain.Account
	require.NoError(t, conn.First(&before, "id = ?", account.ID).Error)

	_, err = svc.Reconcile(ctx, account.ID, accountdomain.ExternalSubscription{
		ID:        "sub_123",
		Status:    "active",
		LineItems: []accountdomain.LineItem{{PriceID: "price_not_in_catalog"}},
	})
	assert.ErrorIs(t, err, accountdomain.ErrUnknownPrice)

	var after accountdomain.Account
	require.NoError(t, conn.First(&after, "id = ?", account.ID).Error)
	assert.Equal(t, before.Plan, after.Plan)
	assert.Equal(t, before.BillingPeriod, after.BillingPeriod)
	assert.Equal(t, before.SubscriptionStatus, after.SubscriptionStatus)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestReconcileMalformedSnapshot(t *testing.T) {
	svc, _, _ := newTestService(t)
	account := seedAccount(t, svc)
	ctx := context.Background()

	tests := []struct {
		name string
		sub  accountdomain.ExternalSubscription
	}{
		{
			name: "no line items",
			sub:  accountdomain.ExternalSubscription{ID: "sub_1", Status: "active"},
		},
		{
			name: "empty price id",
			sub: accountdomain.ExternalSubscription{
				ID:        "sub_1",
				Status:    "active",
				LineItems: []accountdomain.LineItem{{PriceID: "  "}},
			},
		},
		{
			name: "missing subscription id",
			sub: accountdomain.ExternalSubscription{
				Status:    "active",
				LineItems: []accountdomain.LineItem{{PriceID: "price_starter_m"}},
			},
		},
		{
			name: "unknown lifecycle status",
			sub: accountdomain.ExternalSubscription{
				ID:        "sub_1",
				Status:    "hibernating",
				LineItems: []accountdomain.LineItem{{PriceID: "price_starter_m"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Reconcile(ctx, account.ID, tt.sub)
			assert.ErrorIs(t, err, accountdomain.ErrInvalidSubscriptionStructure)
		})
	}
}

func TestHasHadPaidPlanIsMonotonic(t *testing.T) {
	svc, conn, _ := newTestService(t)
	account := seedAccount(t, svc)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, account.ID, accountdomain.ExternalSubscription{
		ID:        "sub_123",
		Status:    "active",
		LineItems: []accountdomain.LineItem{{PriceID: "price_grower_m"}},
	})
	require.NoError(t, err)

	// Cancellation keeps the paid-history flag.
	result, err := svc.Reconcile(ctx, account.ID, accountdomain.ExternalSubscription{
		ID:        "sub_123",
		Status:    "canceled",
		LineItems: []accountdomain.LineItem{{PriceID: "price_grower_m"}},
	})
	require.NoError(t, err)
	assert.Equal(t, accountdomain.OutcomeUpdated, result.Outcome)
	assert.True(t, result.After.HasHadPaidPlan)

	var stored accountdomain.Account
	require.NoError(t, conn.First(&stored, "id = ?", account.ID).Error)
	assert.True(t, stored.HasHadPaidPlan)
	assert.Equal(t, accountdomain.SubscriptionStatusCanceled, stored.SubscriptionStatus)
}

func TestReconcileAccountNotFound(t *testing.T) {
	svc, _, node := newTestService(t)

	_, err := svc.Reconcile(context.Background(), node.Generate(), accountdomain.ExternalSubscription{
		ID:        "sub_123",
		Status:    "active",
		LineItems: []accountdomain.LineItem{{PriceID: "price_starter_m"}},
	})
	assert.ErrorIs(t, err, accountdomain.ErrAccountNotFound)
}
