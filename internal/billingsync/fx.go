package billingsync

import (
	"go.uber.org/fx"

	"github.com/reviewloop/reviewloop/internal/billingsync/service"
)

var Module = fx.Module("billingsync.service",
	fx.Provide(service.NewService),
)
