package account

import (
	"go.uber.org/fx"

	"github.com/reviewloop/reviewloop/internal/account/repository"
	"github.com/reviewloop/reviewloop/internal/account/service"
)

var Module = fx.Module("account.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
