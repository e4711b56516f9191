package stripe

import (
	"go.uber.org/fx"
)

var Module = fx.Module("payment.stripe",
	fx.Provide(NewFetcher),
	fx.Provide(NewWebhookVerifier),
)
