package scheduler

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/reviewloop/reviewloop/internal/account/domain"
	accountrepo "github.com/reviewloop/reviewloop/internal/account/repository"
	accountservice "github.com/reviewloop/reviewloop/internal/account/service"
	auditdomain "github.com/reviewloop/reviewloop/internal/audit/domain"
	auditrepo "github.com/reviewloop/reviewloop/internal/audit/repository"
	auditservice "github.com/reviewloop/reviewloop/internal/audit/service"
	syncservice "github.com/reviewloop/reviewloop/internal/billingsync/service"
	"github.com/reviewloop/reviewloop/internal/catalog"
	"github.com/reviewloop/reviewloop/internal/clock"
	"github.com/reviewloop/reviewloop/internal/config"
	ledgerdomain "github.com/reviewloop/reviewloop/internal/ledger/domain"
	ledgerservice "github.com/reviewloop/reviewloop/internal/ledger/service"
)

type fakeFetcher struct {
	subs map[string]accountdomain.ExternalSubscription
}

func (f *fakeFetcher) FetchSubscription(ctx context.Context, subscriptionID string) (accountdomain.ExternalSubscription, error) {
	sub, ok := f.subs[subscriptionID]
	if !ok {
		return accountdomain.ExternalSubscription{}, fmt.Errorf("no such subscription %s", subscriptionID)
	}
	return sub, nil
}

type fixture struct {
	sched      *Scheduler
	conn       *gorm.DB
	accountSvc accountdomain.Service
	ledgerSvc  ledgerdomain.Service
	fetcher    *fakeFetcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&accountdomain.Account{},
		&ledgerdomain.CreditTransaction{},
		&ledgerdomain.CreditBalance{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()

	cat, err := catalog.New([]catalog.Entry{
		{Plan: catalog.PlanStarter, Period: catalog.PeriodMonthly, PriceID: "price_starter_m"},
		{Plan: catalog.PlanGrower, Period: catalog.PeriodMonthly, PriceID: "price_grower_m"},
	})
	require.NoError(t, err)

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Repo:  auditrepo.Provide(),
	})
	accountSvc := accountservice.NewService(accountservice.Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		Catalog:  cat,
		Repo:     accountrepo.Provide(),
		AuditSvc: auditSvc,
	})
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:       conn,
		Log:      log,
		GenID:    node,
		AuditSvc: auditSvc,
	})

	fetcher := &fakeFetcher{subs: map[string]accountdomain.ExternalSubscription{}}
	syncSvc := syncservice.NewService(syncservice.Params{
		DB:          conn,
		Log:         log,
		Cfg:         config.Config{ExternalTimeout: time.Second},
		Fetcher:     fetcher,
		AccountSvc:  accountSvc,
		AccountRepo: accountrepo.Provide(),
		LedgerSvc:   ledgerSvc,
	})

	sched, err := New(Params{
		DB:          conn,
		Log:         log,
		AccountRepo: accountrepo.Provide(),
		SyncSvc:     syncSvc,
		LedgerSvc:   ledgerSvc,
		Clock:       clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		Config:      Config{BatchSize: 1},
	})
	require.NoError(t, err)

	return &fixture{
		sched:      sched,
		conn:       conn,
		accountSvc: accountSvc,
		ledgerSvc:  ledgerSvc,
		fetcher:    fetcher,
	}
}

func (f *fixture) seedSubscribedAccount(t *testing.T, subID string, priceID string) *accountdomain.Account {
	t.Helper()
	ctx := context.Background()
	account, err := f.accountSvc.Create(ctx, accountdomain.CreateAccountRequest{Name: "Acme " + subID})
	require.NoError(t, err)

	f.fetcher.subs[subID] = accountdomain.ExternalSubscription{
		ID:         subID,
		CustomerID: "cus_" + subID,
		Status:     "active",
		LineItems:  []accountdomain.LineItem{{PriceID: priceID}},
	}
	_, err = f.accountSvc.Reconcile(ctx, account.ID, f.fetcher.subs[subID])
	require.NoError(t, err)
	return account
}

func TestAccountSyncJobSweepsAllBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Batch size is 1, so three accounts forces paging.
	first := f.seedSubscribedAccount(t, "sub_1", "price_starter_m")
	second := f.seedSubscribedAccount(t, "sub_2", "price_starter_m")
	third := f.seedSubscribedAccount(t, "sub_3", "price_starter_m")

	for _, subID := range []string{"sub_1", "sub_2", "sub_3"} {
		sub := f.fetcher.subs[subID]
		sub.LineItems = []accountdomain.LineItem{{PriceID: "price_grower_m"}}
		f.fetcher.subs[subID] = sub
	}

	require.NoError(t, f.sched.AccountSyncJob(ctx))

	for _, account := range []*accountdomain.Account{first, second, third} {
		stored, err := f.accountSvc.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, catalog.PlanGrower, stored.Plan)
	}
}

func TestAccountSyncJobContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	broken := f.seedSubscribedAccount(t, "sub_1", "price_starter_m")
	healthy := f.seedSubscribedAccount(t, "sub_2", "price_starter_m")

	delete(f.fetcher.subs, "sub_1")
	sub := f.fetcher.subs["sub_2"]
	sub.LineItems = []accountdomain.LineItem{{PriceID: "price_grower_m"}}
	f.fetcher.subs["sub_2"] = sub

	err := f.sched.AccountSyncJob(ctx)
	require.Error(t, err)

	stored, err := f.accountSvc.GetByID(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.PlanGrower, stored.Plan)

	stored, err = f.accountSvc.GetByID(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.PlanStarter, stored.Plan)
}

func TestBalanceAuditJobRepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account := f.seedSubscribedAccount(t, "sub_1", "price_starter_m")
	_, err := f.ledgerSvc.Apply(ctx, ledgerdomain.ApplyRequest{
		AccountID:       account.ID,
		Amount:          100,
		CreditType:      ledgerdomain.CreditTypeIncluded,
		TransactionType: ledgerdomain.TransactionTypeSubscriptionGrant,
		IdempotencyKey:  "grant-1",
	})
	require.NoError(t, err)

	require.NoError(t, f.conn.Exec(
		`UPDATE credit_balances SET included_credits = 1 WHERE account_id = ?`, account.ID,
	).Error)

	require.NoError(t, f.sched.BalanceAuditJob(ctx))

	balance, err := f.ledgerSvc.GetBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.IncludedCredits)
}

func TestRunOnceAggregates(t *testing.T) {
	f := newFixture(t)
	f.seedSubscribedAccount(t, "sub_1", "price_starter_m")

	require.NoError(t, f.sched.RunOnce(context.Background()))
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
