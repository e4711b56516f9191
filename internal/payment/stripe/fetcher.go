// Package stripe adapts the Stripe API to the billing sync surface: pulling
// subscription snapshots and verifying pushed webhook payloads.
package stripe

import (
	"context"
	"errors"
	"strings"

	stripesdk "github.com/stripe/stripe-go/v82"
	"go.uber.org/fx"
	"go.uber.org/zap"

	accountdomain "github.com/reviewloop/reviewloop/internal/account/domain"
	syncdomain "github.com/reviewloop/reviewloop/internal/billingsync/domain"
	"github.com/reviewloop/reviewloop/internal/config"
)

var ErrNotConfigured = errors.New("stripe_not_configured")

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type Fetcher struct {
	client *stripesdk.Client
	log    *zap.Logger
}

func NewFetcher(p Params) (syncdomain.SubscriptionFetcher, error) {
	secret := strings.TrimSpace(p.Cfg.StripeSecretKey)
	if secret == "" {
		return nil, ErrNotConfigured
	}
	return &Fetcher{
		client: stripesdk.NewClient(secret, nil),
		log:    p.Log.Named("payment.stripe"),
	}, nil
}

func (f *Fetcher) FetchSubscription(ctx context.Context, subscriptionID string) (accountdomain.ExternalSubscription, error) {
	params := &stripesdk.SubscriptionRetrieveParams{
		Expand: []*string{
			stripesdk.String("items.data.price.product"),
		},
	}
	sub, err := f.client.V1Subscriptions.Retrieve(ctx, subscriptionID, params)
	if err != nil {
		f.log.Error("failed to retrieve subscription",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err),
		)
		return accountdomain.ExternalSubscription{}, err
	}
	return snapshotOf(sub), nil
}

// snapshotOf flattens the SDK subscription into the minimal snapshot the
// reconciler consumes.
func snapshotOf(sub *stripesdk.Subscription) accountdomain.ExternalSubscription {
	snapshot := accountdomain.ExternalSubscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		snapshot.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			snapshot.LineItems = append(snapshot.LineItems, accountdomain.LineItem{
				PriceID: item.Price.ID,
			})
		}
	}
	return snapshot
}
